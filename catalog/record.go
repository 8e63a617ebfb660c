package catalog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Record is one known fault case in the catalog.
type Record struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	System       string   `json:"system,omitempty"`
	Part         string   `json:"part,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Popularity   float64  `json:"popularity"`
	SearchCount  int      `json:"search_num,omitempty"`
	VehicleType  string   `json:"vehicletype,omitempty"`
	VehicleBrand string   `json:"vehiclebrand,omitempty"`
	ModelYear    string   `json:"modelyear,omitempty"`
	FaultCode    string   `json:"faultcode,omitempty"`
	Topic        string   `json:"topic,omitempty"`
	Discussion   string   `json:"discussion,omitempty"`
	Solution     string   `json:"solution,omitempty"`
}

// Key spellings seen across catalog exports, most specific first.
var (
	idKeys          = []string{"id", "_id", "ID", "编号"}
	textKeys        = []string{"text", "fault_symptom", "symptoms", "symptom", "summary", "fault_description", "fault_desc", "discussion", "fault_point", "故障现象", "描述"}
	systemKeys      = []string{"system", "system_name", "systemCategory", "system_category", "系统"}
	partKeys        = []string{"part", "component", "component_name", "control_unit", "fault_part", "部件"}
	tagKeys         = []string{"tags", "labels", "tag_list"}
	popularityKeys  = []string{"popularity", "popularity_score", "热度"}
	searchCountKeys = []string{"searchNum", "search_num"}
	vehicleTypeKeys = []string{"vehicletype", "vehicle_model", "vehicle_name", "vehiclename", "model", "series", "car_model"}
	brandKeys       = []string{"vehiclebrand", "vehicle_brand", "brand", "car_brand"}
	modelYearKeys   = []string{"modelyear", "model_year", "year", "spare1"}
	faultCodeKeys   = []string{"faultcode", "fault_code", "dtc", "code", "spare4"}
	topicKeys       = []string{"topic", "category", "fault_category", "fault_type"}
	discussionKeys  = []string{"discussion", "fault_point", "fault_location", "faultDescription", "analysis"}
	solutionKeys    = []string{"solution", "repair_solution", "measure", "fix"}
)

var tagSplitRe = regexp.MustCompile(`[,，;；\s]+`)

// FromSource builds a Record out of a loosely shaped document, taking the
// first non-empty value among the known spellings of each field.
func FromSource(id string, source map[string]any) Record {
	if id == "" {
		id = asString(pickFirst(source, idKeys))
	}
	return Record{
		ID:           id,
		Text:         asString(pickFirst(source, textKeys)),
		System:       asString(pickFirst(source, systemKeys)),
		Part:         asString(pickFirst(source, partKeys)),
		Tags:         NormalizeTags(pickFirst(source, tagKeys)),
		Popularity:   asFloat(pickFirst(source, popularityKeys)),
		SearchCount:  asInt(pickFirst(source, searchCountKeys)),
		VehicleType:  asString(pickFirst(source, vehicleTypeKeys)),
		VehicleBrand: asString(pickFirst(source, brandKeys)),
		ModelYear:    asString(pickFirst(source, modelYearKeys)),
		FaultCode:    asString(pickFirst(source, faultCodeKeys)),
		Topic:        asString(pickFirst(source, topicKeys)),
		Discussion:   asString(pickFirst(source, discussionKeys)),
		Solution:     asString(pickFirst(source, solutionKeys)),
	}
}

// NormalizeTags accepts a list or a delimited string and returns trimmed, non-empty tags.
func NormalizeTags(value any) []string {
	var raw []string
	switch v := value.(type) {
	case nil:
		return nil
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			raw = append(raw, asString(item))
		}
	case string:
		raw = tagSplitRe.Split(v, -1)
	default:
		raw = []string{asString(v)}
	}

	tags := make([]string, 0, len(raw))
	for _, t := range raw {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

// SearchableText is the concatenation indexed by the local retrieval channels.
func (r Record) SearchableText() string {
	parts := []string{r.Text}
	for _, s := range []string{r.System, r.Part, strings.Join(r.Tags, " "), r.Topic} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func pickFirst(source map[string]any, keys []string) any {
	for _, key := range keys {
		value, ok := source[key]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		case []any:
			if len(v) > 0 {
				return v
			}
		case []string:
			if len(v) > 0 {
				return v
			}
		case map[string]any:
			if len(v) > 0 {
				return v
			}
		default:
			return v
		}
	}
	return nil
}

func asString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func asFloat(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func asInt(value any) int {
	return int(asFloat(value))
}
