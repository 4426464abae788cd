package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ConfigType selects the config section requested by GetConfigRequest.
type ConfigType uint32

const (
	ConfigTypeDevice     ConfigType = 0
	ConfigTypePosition   ConfigType = 1
	ConfigTypePower      ConfigType = 2
	ConfigTypeNetwork    ConfigType = 3
	ConfigTypeDisplay    ConfigType = 4
	ConfigTypeLoRa       ConfigType = 5
	ConfigTypeBluetooth  ConfigType = 6
	ConfigTypeSecurity   ConfigType = 7
	ConfigTypeSessionKey ConfigType = 8
	ConfigTypeDeviceUI   ConfigType = 9
)

func (c ConfigType) String() string {
	switch c {
	case ConfigTypeDevice:
		return "device"
	case ConfigTypePosition:
		return "position"
	case ConfigTypePower:
		return "power"
	case ConfigTypeNetwork:
		return "network"
	case ConfigTypeDisplay:
		return "display"
	case ConfigTypeLoRa:
		return "lora"
	case ConfigTypeBluetooth:
		return "bluetooth"
	case ConfigTypeSecurity:
		return "security"
	case ConfigTypeSessionKey:
		return "sessionkey"
	case ConfigTypeDeviceUI:
		return "device_ui"
	default:
		return fmt.Sprintf("config(%d)", uint32(c))
	}
}

// User is a node's owner record.
type User struct {
	ID        string
	LongName  string
	ShortName string
	PublicKey []byte
}

func (u *User) appendTo(b []byte) []byte {
	b = appendString(b, 1, u.ID)
	b = appendString(b, 2, u.LongName)
	b = appendString(b, 3, u.ShortName)
	b = appendBytes(b, 8, u.PublicKey)
	return b
}

func unmarshalUser(b []byte) (*User, error) {
	u := &User{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, v, &u.ID), nil
		case 2:
			return consumeString(typ, v, &u.LongName), nil
		case 3:
			return consumeString(typ, v, &u.ShortName), nil
		case 8:
			return consumeBytes(typ, v, &u.PublicKey), nil
		}
		return 0, nil
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("user: %w", err)
	}
	return u, nil
}

// LoRaConfig is the radio section of a node's config. Fields that are not
// modelled here are retained verbatim so that a config fetched from a node
// can be modified and written back without resetting other settings.
type LoRaConfig struct {
	UsePreset     bool
	ModemPreset   uint32
	Region        uint32
	HopLimit      uint32
	TxEnabled     bool
	TxPower       int32
	RxBoostedGain bool // sx126x_rx_boosted_gain

	unknown []byte
}

func (l *LoRaConfig) appendTo(b []byte) []byte {
	b = appendBool(b, 1, l.UsePreset)
	b = appendUint32(b, 2, l.ModemPreset)
	b = appendUint32(b, 7, l.Region)
	b = appendUint32(b, 8, l.HopLimit)
	b = appendBool(b, 9, l.TxEnabled)
	b = appendInt32(b, 10, l.TxPower)
	b = appendBool(b, 13, l.RxBoostedGain)
	return append(b, l.unknown...)
}

func unmarshalLoRaConfig(b []byte) (*LoRaConfig, error) {
	l := &LoRaConfig{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return consumeBool(typ, v, &l.UsePreset), nil
		case 2:
			return consumeUint32(typ, v, &l.ModemPreset), nil
		case 7:
			return consumeUint32(typ, v, &l.Region), nil
		case 8:
			return consumeUint32(typ, v, &l.HopLimit), nil
		case 9:
			return consumeBool(typ, v, &l.TxEnabled), nil
		case 10:
			return consumeInt32(typ, v, &l.TxPower), nil
		case 13:
			return consumeBool(typ, v, &l.RxBoostedGain), nil
		}
		return 0, nil
	}, func(raw []byte) {
		l.unknown = append(l.unknown, raw...)
	})
	if err != nil {
		return nil, fmt.Errorf("lora config: %w", err)
	}
	return l, nil
}

// Clone returns a deep copy of the config.
func (l *LoRaConfig) Clone() *LoRaConfig {
	c := *l
	c.unknown = append([]byte(nil), l.unknown...)
	return &c
}

// Config is the device config oneof. Only the LoRa section is modelled;
// other sections decode to a Config with LoRa unset.
type Config struct {
	LoRa *LoRaConfig
}

func (c *Config) appendTo(b []byte) []byte {
	if c.LoRa != nil {
		b = appendMessage(b, 6, c.LoRa.appendTo(nil))
	}
	return b
}

func unmarshalConfig(b []byte) (*Config, error) {
	c := &Config{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if num != 6 {
			return 0, nil
		}
		body, n := consumeMessage(typ, v)
		if n <= 0 {
			return n, nil
		}
		l, err := unmarshalLoRaConfig(body)
		if err != nil {
			return 0, err
		}
		c.LoRa = l
		return n, nil
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return c, nil
}

// AdminMessage is the payload of PortNumAdmin packets. At most one of the
// request/response members is expected to be set; SessionPasskey may
// accompany any of them.
type AdminMessage struct {
	GetOwnerRequest   bool
	GetOwnerResponse  *User
	GetConfigRequest  *ConfigType
	GetConfigResponse *Config
	SetConfig         *Config
	SessionPasskey    []byte
}

// NewGetOwnerRequest returns an admin request for the node's owner record.
func NewGetOwnerRequest() *AdminMessage {
	return &AdminMessage{GetOwnerRequest: true}
}

// NewGetConfigRequest returns an admin request for one config section.
func NewGetConfigRequest(t ConfigType) *AdminMessage {
	return &AdminMessage{GetConfigRequest: &t}
}

// NewSetLoRaConfig returns an admin request writing the LoRa config section.
func NewSetLoRaConfig(l *LoRaConfig) *AdminMessage {
	return &AdminMessage{SetConfig: &Config{LoRa: l}}
}

// Clone returns a copy of the message that can be modified (e.g. by
// attaching a session passkey) without affecting the original.
func (m *AdminMessage) Clone() *AdminMessage {
	c := *m
	c.SessionPasskey = append([]byte(nil), m.SessionPasskey...)
	return &c
}

// Kind returns a short name for the populated member, for logging.
func (m *AdminMessage) Kind() string {
	switch {
	case m.GetOwnerRequest:
		return "get_owner_request"
	case m.GetOwnerResponse != nil:
		return "get_owner_response"
	case m.GetConfigRequest != nil:
		return "get_config_request"
	case m.GetConfigResponse != nil:
		return "get_config_response"
	case m.SetConfig != nil:
		return "set_config"
	default:
		return "other"
	}
}

// Marshal encodes the message.
func (m *AdminMessage) Marshal() []byte {
	var b []byte
	b = appendBool(b, 3, m.GetOwnerRequest)
	if m.GetOwnerResponse != nil {
		b = appendMessage(b, 4, m.GetOwnerResponse.appendTo(nil))
	}
	if m.GetConfigRequest != nil {
		// Oneof member: emitted even when zero (DEVICE_CONFIG).
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*m.GetConfigRequest))
	}
	if m.GetConfigResponse != nil {
		b = appendMessage(b, 6, m.GetConfigResponse.appendTo(nil))
	}
	if m.SetConfig != nil {
		b = appendMessage(b, 34, m.SetConfig.appendTo(nil))
	}
	b = appendBytes(b, 101, m.SessionPasskey)
	return b
}

// UnmarshalAdmin decodes an AdminMessage.
func UnmarshalAdmin(b []byte) (*AdminMessage, error) {
	m := &AdminMessage{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 3:
			return consumeBool(typ, v, &m.GetOwnerRequest), nil
		case 4:
			body, n := consumeMessage(typ, v)
			if n <= 0 {
				return n, nil
			}
			u, err := unmarshalUser(body)
			if err != nil {
				return 0, err
			}
			m.GetOwnerResponse = u
			return n, nil
		case 5:
			var t uint32
			n := consumeUint32(typ, v, &t)
			if n > 0 {
				ct := ConfigType(t)
				m.GetConfigRequest = &ct
			}
			return n, nil
		case 6, 34:
			body, n := consumeMessage(typ, v)
			if n <= 0 {
				return n, nil
			}
			c, err := unmarshalConfig(body)
			if err != nil {
				return 0, err
			}
			if num == 6 {
				m.GetConfigResponse = c
			} else {
				m.SetConfig = c
			}
			return n, nil
		case 101:
			return consumeBytes(typ, v, &m.SessionPasskey), nil
		}
		return 0, nil
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("admin message: %w", err)
	}
	return m, nil
}
