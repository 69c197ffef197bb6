package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/xeipuuv/gojsonschema"
)

// Kind names one operation in the closed tool set.
type Kind string

const (
	KindCheckStock      Kind = "check_medicine_stock"
	KindPlaceOrder      Kind = "place_order"
	KindPatientHistory  Kind = "get_patient_history"
	KindLowStockAlerts  Kind = "check_low_stock_alerts"
	KindSearchKnowledge Kind = "search_knowledge_base"
	KindDrugInteraction Kind = "check_drug_interaction"
)

// Kinds lists every tool in the order it is offered to the model.
func Kinds() []Kind {
	return []Kind{
		KindCheckStock,
		KindPlaceOrder,
		KindPatientHistory,
		KindLowStockAlerts,
		KindSearchKnowledge,
		KindDrugInteraction,
	}
}

func ParseKind(name string) (Kind, bool) {
	k := Kind(strings.TrimSpace(name))
	_, ok := toolDefs[k]
	return k, ok
}

// Args is the typed argument set of one tool call. The unexported method
// keeps the set closed to this package.
type Args interface {
	Kind() Kind
	sealed()
}

type CheckStockArgs struct {
	MedicineName string `json:"medicine_name"`
}

type PlaceOrderArgs struct {
	PatientID    string `json:"patient_id"`
	MedicineName string `json:"medicine_name"`
	Quantity     int    `json:"quantity"`
}

type PatientHistoryArgs struct {
	PatientID string `json:"patient_id"`
}

type LowStockAlertsArgs struct{}

type SearchKnowledgeArgs struct {
	Query string `json:"query"`
}

type DrugInteractionArgs struct {
	MedicineOne string `json:"medicine_one"`
	MedicineTwo string `json:"medicine_two"`
}

func (CheckStockArgs) Kind() Kind      { return KindCheckStock }
func (PlaceOrderArgs) Kind() Kind      { return KindPlaceOrder }
func (PatientHistoryArgs) Kind() Kind  { return KindPatientHistory }
func (LowStockAlertsArgs) Kind() Kind  { return KindLowStockAlerts }
func (SearchKnowledgeArgs) Kind() Kind { return KindSearchKnowledge }
func (DrugInteractionArgs) Kind() Kind { return KindDrugInteraction }

func (CheckStockArgs) sealed()      {}
func (PlaceOrderArgs) sealed()      {}
func (PatientHistoryArgs) sealed()  {}
func (LowStockAlertsArgs) sealed()  {}
func (SearchKnowledgeArgs) sealed() {}
func (DrugInteractionArgs) sealed() {}

type toolDef struct {
	desc   string
	params map[string]*schema.ParameterInfo
	schema *gojsonschema.Schema
}

var toolDefs = map[Kind]*toolDef{
	KindCheckStock: {
		desc: "Check if a medicine is in stock. Matches partial names (searching \"Amoxicillin\" finds \"Amoxicillin 500mg\") and returns stock, unit, dosage, price and whether a prescription is required.",
		params: map[string]*schema.ParameterInfo{
			"medicine_name": {Type: schema.String, Desc: "Medicine name or part of it, e.g. Paracetamol.", Required: true},
		},
	},
	KindPlaceOrder: {
		desc: "Place an order for a medicine and deduct stock. Blocks the order when the patient is allergic to the medicine or its category. Only call after checking stock and collecting the patient identifier and quantity.",
		params: map[string]*schema.ParameterInfo{
			"patient_id":    {Type: schema.String, Desc: "Patient ID number or full name.", Required: true},
			"medicine_name": {Type: schema.String, Desc: "Medicine name as shown by check_medicine_stock.", Required: true},
			"quantity":      {Type: schema.Integer, Desc: "Number of units to order. Must be positive.", Required: true},
		},
	},
	KindPatientHistory: {
		desc: "Get the purchase history recorded for a patient identifier.",
		params: map[string]*schema.ParameterInfo{
			"patient_id": {Type: schema.String, Desc: "Patient identifier exactly as recorded on orders, e.g. User1 or Jane Smith.", Required: true},
		},
	},
	KindLowStockAlerts: {
		desc:   "List medicines whose stock is below the low-stock threshold.",
		params: map[string]*schema.ParameterInfo{},
	},
	KindSearchKnowledge: {
		desc: "Search the medical knowledge base for drug interactions, side effects and safety guidelines. Use strictly for medical questions, e.g. \"Can I take X with Y?\" or \"Side effects of Z\".",
		params: map[string]*schema.ParameterInfo{
			"query": {Type: schema.String, Desc: "The medical question in natural language.", Required: true},
		},
	},
	KindDrugInteraction: {
		desc: "Check for harmful interactions between two medicines using the knowledge base.",
		params: map[string]*schema.ParameterInfo{
			"medicine_one": {Type: schema.String, Desc: "First medicine name.", Required: true},
			"medicine_two": {Type: schema.String, Desc: "Second medicine name.", Required: true},
		},
	},
}

func init() {
	for kind, s := range toolDefs {
		compiled, err := generateJSONSchema(s.params)
		if err != nil {
			panic(fmt.Sprintf("tool %s: invalid parameter schema: %v", kind, err))
		}
		s.schema = compiled
	}
}

// Info returns the Eino tool description for kind.
func Info(kind Kind) *schema.ToolInfo {
	s := toolDefs[kind]
	return &schema.ToolInfo{
		Name:        string(kind),
		Desc:        s.desc,
		ParamsOneOf: schema.NewParamsOneOfByParams(s.params),
	}
}

func generateJSONSchema(params map[string]*schema.ParameterInfo) (*gojsonschema.Schema, error) {
	properties := make(map[string]any, len(params))
	required := []string{}
	for name, p := range params {
		prop := map[string]any{
			"type":        string(p.Type),
			"description": p.Desc,
		}
		if p.Required {
			required = append(required, name)
			if p.Type == schema.String {
				prop["minLength"] = 1
			}
		}
		properties[name] = prop
	}
	schemaMap := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

// NormalizeArguments trims string values, coerces integer strings, and drops
// keys the tool does not declare. Input that is not a JSON object is
// returned unchanged so validation can report it.
func NormalizeArguments(kind Kind, arguments string) string {
	s, ok := toolDefs[kind]
	if !ok {
		return arguments
	}
	if strings.TrimSpace(arguments) == "" {
		return "{}"
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(arguments), &m); err != nil {
		return arguments
	}
	for key, v := range m {
		p, declared := s.params[key]
		if !declared {
			delete(m, key)
			continue
		}
		switch p.Type {
		case schema.String:
			switch vv := v.(type) {
			case string:
				m[key] = strings.TrimSpace(vv)
			case float64, bool:
				m[key] = strings.TrimSpace(fmt.Sprint(vv))
			}
		case schema.Integer:
			if vv, ok := v.(string); ok {
				if n, err := strconv.Atoi(strings.TrimSpace(vv)); err == nil {
					m[key] = n
				}
			}
		}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return arguments
	}
	return string(b)
}

// ParseArgs validates arguments against the tool's schema and decodes them
// into its typed argument struct.
func ParseArgs(kind Kind, arguments string) (Args, error) {
	s, ok := toolDefs[kind]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", kind)
	}
	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}

	result, err := s.schema.Validate(gojsonschema.NewStringLoader(arguments))
	if err != nil {
		return nil, fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("validation errors: %s", strings.Join(msgs, "; "))
	}

	var args Args
	switch kind {
	case KindCheckStock:
		args, err = decode[CheckStockArgs](arguments)
	case KindPlaceOrder:
		args, err = decode[PlaceOrderArgs](arguments)
	case KindPatientHistory:
		args, err = decode[PatientHistoryArgs](arguments)
	case KindLowStockAlerts:
		args = LowStockAlertsArgs{}
	case KindSearchKnowledge:
		args, err = decode[SearchKnowledgeArgs](arguments)
	case KindDrugInteraction:
		args, err = decode[DrugInteractionArgs](arguments)
	}
	return args, err
}

func decode[T Args](arguments string) (Args, error) {
	var v T
	if err := json.Unmarshal([]byte(arguments), &v); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return v, nil
}
