package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/unicode/norm"

	"github.com/Harry0M/oikos-sub001/internal/models"
)

// UnknownSender is the display name used when a notification carries none.
const UnknownSender = "Unknown"

const debtNotificationSchema = `{
  "type": "object",
  "required": ["debtId", "senderId", "type", "totalAmount"],
  "properties": {
    "debtId":          {"type": "string", "minLength": 1},
    "senderId":        {"type": "string", "minLength": 1},
    "senderName":      {"type": "string"},
    "type":            {"enum": ["DEBT", "CREDIT"]},
    "totalAmount":     {"type": "number", "exclusiveMinimum": 0},
    "remainingAmount": {"type": "number", "minimum": 0},
    "description":     {"type": "string"},
    "dueDate":         {"type": "integer", "minimum": 0},
    "createdAt":       {"type": "integer", "minimum": 0},
    "isProcessed":     {"type": "boolean"}
  }
}`

const settlementNotificationSchema = `{
  "type": "object",
  "required": ["senderId", "amount"],
  "properties": {
    "settlementId": {"type": "string"},
    "debtId":       {"type": "string"},
    "senderId":     {"type": "string", "minLength": 1},
    "senderName":   {"type": "string"},
    "amount":       {"type": "number", "exclusiveMinimum": 0},
    "note":         {"type": "string"},
    "createdAt":    {"type": "integer", "minimum": 0},
    "isProcessed":  {"type": "boolean"}
  }
}`

var (
	debtSchema       = mustCompileSchema("debt_notification.json", debtNotificationSchema)
	settlementSchema = mustCompileSchema("settlement_notification.json", settlementNotificationSchema)
)

func mustCompileSchema(name, source string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
	if err != nil {
		panic(fmt.Sprintf("relay: parse schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("relay: add schema %s: %v", name, err))
	}
	schema, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("relay: compile schema %s: %v", name, err))
	}
	return schema
}

func validate(schema *jsonschema.Schema, data []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func normalizeName(name string) string {
	name = strings.TrimSpace(norm.NFC.String(name))
	if name == "" {
		return UnknownSender
	}
	return name
}

// DecodeDebtNotification validates data and decodes it into a notification
// stored under key. Optional fields take their defaults; a missing
// remainingAmount equals totalAmount.
func DecodeDebtNotification(key string, data []byte) (models.DebtNotification, error) {
	if err := validate(debtSchema, data); err != nil {
		return models.DebtNotification{}, err
	}
	n := models.DebtNotification{RemainingAmount: -1}
	if err := json.Unmarshal(data, &n); err != nil {
		return models.DebtNotification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if n.RemainingAmount < 0 {
		n.RemainingAmount = n.TotalAmount
	}
	if n.RemainingAmount > n.TotalAmount {
		return models.DebtNotification{}, fmt.Errorf("%w: remainingAmount exceeds totalAmount", ErrMalformed)
	}
	n.Key = key
	n.SenderName = normalizeName(n.SenderName)
	return n, nil
}

// EncodeDebtNotification renders n in its wire form.
func EncodeDebtNotification(n models.DebtNotification) ([]byte, error) {
	n.SenderName = norm.NFC.String(n.SenderName)
	return json.Marshal(n)
}

// DecodeSettlementNotification validates data and decodes it into a
// notification stored under key. A missing settlementId defaults to key.
func DecodeSettlementNotification(key string, data []byte) (models.SettlementNotification, error) {
	if err := validate(settlementSchema, data); err != nil {
		return models.SettlementNotification{}, err
	}
	var n models.SettlementNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return models.SettlementNotification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	n.Key = key
	if n.SettlementID == "" {
		n.SettlementID = key
	}
	n.SenderName = normalizeName(n.SenderName)
	return n, nil
}

// EncodeSettlementNotification renders n in its wire form.
func EncodeSettlementNotification(n models.SettlementNotification) ([]byte, error) {
	n.SenderName = norm.NFC.String(n.SenderName)
	return json.Marshal(n)
}
