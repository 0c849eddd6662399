package redis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zerofox-oss/go-jms"
)

// Stream entry fields.
const (
	fieldID            = "id"
	fieldCorrelationID = "correlation_id"
	fieldType          = "type"
	fieldReplyTo       = "reply_to"
	fieldDeliveryMode  = "delivery_mode"
	fieldPriority      = "priority"
	fieldTimestamp     = "timestamp"
	fieldExpiration    = "expiration"
	fieldProperties    = "properties"
	fieldBody          = "body"
)

// property is the JSON form of a property value. Kind keeps integers
// and floats apart.
type property struct {
	Kind  string      `json:"k"`
	Value interface{} `json:"v"`
}

func encodeProperties(p jms.Properties) (string, error) {
	props := make(map[string]property, len(p))
	for name, v := range p {
		var kind string
		switch f := v.(type) {
		case bool:
			kind = "bool"
		case string:
			kind = "string"
		case int, int8, int16, int32, int64:
			kind = "int"
		case float32:
			kind = "float"
			v = float64(f)
		case float64:
			kind = "float"
		default:
			return "", fmt.Errorf("property %q: %w", name, jms.ErrInvalidPropertyValue)
		}
		props[name] = property{Kind: kind, Value: v}
	}

	b, err := json.Marshal(props)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeProperties(s string) (jms.Properties, error) {
	p := jms.Properties{}
	if s == "" {
		return p, nil
	}

	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	props := map[string]property{}
	if err := dec.Decode(&props); err != nil {
		return nil, err
	}

	for name, prop := range props {
		var v interface{}
		var err error
		switch prop.Kind {
		case "bool", "string":
			v = prop.Value
		case "int":
			v, err = numberValue(prop.Value, func(n json.Number) (interface{}, error) { return n.Int64() })
		case "float":
			v, err = numberValue(prop.Value, func(n json.Number) (interface{}, error) { return n.Float64() })
		default:
			err = fmt.Errorf("unknown kind %q", prop.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		if err := p.Set(name, v); err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
	}
	return p, nil
}

func numberValue(v interface{}, conv func(json.Number) (interface{}, error)) (interface{}, error) {
	n, ok := v.(json.Number)
	if !ok {
		return nil, fmt.Errorf("%v is not a number", v)
	}
	return conv(n)
}

// toValues converts m to the fields of a stream entry.
func toValues(m *jms.Message, body []byte) (map[string]interface{}, error) {
	props, err := encodeProperties(m.Properties)
	if err != nil {
		return nil, err
	}

	values := map[string]interface{}{
		fieldID:           m.ID,
		fieldDeliveryMode: int(m.DeliveryMode),
		fieldPriority:     m.Priority,
		fieldTimestamp:    m.Timestamp.UnixNano(),
		fieldProperties:   props,
		fieldBody:         body,
	}
	if m.CorrelationID != "" {
		values[fieldCorrelationID] = m.CorrelationID
	}
	if m.Type != "" {
		values[fieldType] = m.Type
	}
	if m.ReplyTo != nil {
		values[fieldReplyTo] = m.ReplyTo.String()
	}
	if !m.Expiration.IsZero() {
		values[fieldExpiration] = m.Expiration.UnixNano()
	}
	return values, nil
}

// toMessage converts the fields of a stream entry to a Message received
// from d.
func toMessage(values map[string]interface{}, d jms.Destination) (*jms.Message, error) {
	get := func(field string) string {
		s, _ := values[field].(string)
		return s
	}

	props, err := decodeProperties(get(fieldProperties))
	if err != nil {
		return nil, fmt.Errorf("could not decode properties: %w", err)
	}

	m := jms.NewMessage(bytes.NewReader([]byte(get(fieldBody))))
	m.ID = get(fieldID)
	m.CorrelationID = get(fieldCorrelationID)
	m.Type = get(fieldType)
	m.Destination = d
	m.Properties = props

	if s := get(fieldReplyTo); s != "" {
		if m.ReplyTo, err = parseDestination(s); err != nil {
			return nil, err
		}
	}

	mode, err := intField(values, fieldDeliveryMode)
	if err != nil {
		return nil, err
	}
	m.DeliveryMode = jms.DeliveryMode(mode)

	priority, err := intField(values, fieldPriority)
	if err != nil {
		return nil, err
	}
	m.Priority = int(priority)

	ts, err := intField(values, fieldTimestamp)
	if err != nil {
		return nil, err
	}
	m.Timestamp = time.Unix(0, ts)

	if get(fieldExpiration) != "" {
		exp, err := intField(values, fieldExpiration)
		if err != nil {
			return nil, err
		}
		m.Expiration = time.Unix(0, exp)
	}
	return m, nil
}

func intField(values map[string]interface{}, field string) (int64, error) {
	s, _ := values[field].(string)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", field, err)
	}
	return n, nil
}

func parseDestination(s string) (jms.Destination, error) {
	switch {
	case strings.HasPrefix(s, "queue://"):
		return jms.Queue(strings.TrimPrefix(s, "queue://")), nil
	case strings.HasPrefix(s, "topic://"):
		return jms.Topic(strings.TrimPrefix(s, "topic://")), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedDestination, s)
}
