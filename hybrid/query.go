package hybrid

// Field lists cover the key spellings seen across catalog exports; boosts
// favour symptom text over classification and vehicle fields.
var (
	phenomenaFields = []string{
		"text^3.0", "symptoms^3.0", "symptom^3.0", "fault_symptom^3.0", "faultSymptom^3.0",
		"symptom_desc^2.8", "symptomDesc^2.8",
		"topic^2.5", "summary^2.3", "discussion^2.5", "fault_point^2.5", "faultPoint^2.5",
		"analysis^2.0", "search_content^2.0", "searchContent^2.0", "search^1.8", "solution^1.8",
		"part^1.5", "component^1.5", "system^1.5", "system_name^1.3",
		"vehicletype^1.5", "vehicle_model^1.5", "vehicle_name^1.3", "vehiclename^1.3",
		"vehiclebrand^1.3", "vehicle_brand^1.3", "brand^1.3",
		"spare2^1.0", "spare4^1.0",
		"faultcode^0.8", "fault_code^0.8", "dtc^0.8",
	}

	faultPointTextFields = []string{
		"discussion^3.0", "fault_point^3.0", "faultPoint^3.0",
		"symptoms^2.5", "fault_symptom^2.5", "symptom^2.0", "text^2.0",
		"topic^1.5", "summary^1.5", "solution^1.2",
	}

	vehicleNameFields = []string{
		"vehicletype^2.0", "vehicle_model^2.0", "vehicle_name^1.8", "vehiclename^1.8",
		"topic^1.5", "symptoms", "searchContent", "search_content", "search",
	}

	vehicleTypeFilterFields = []string{
		"vehicletype^2.0", "vehicle_model^2.0", "vehicle_name^1.5", "vehiclename^1.5", "model^1.2", "series^1.2",
	}

	vehicleBrandFields = []string{"vehiclebrand^2.0", "vehicle_brand^2.0", "brand^1.8"}

	partFilterFields = []string{
		"part^2.0", "component^2.0", "component_name^2.0", "control_unit^1.5", "fault_point^1.2",
	}

	controlUnitFields = []string{
		"part^2.0", "component^2.0", "component_name^2.0", "control_unit^2.0",
		"system^1.5", "discussion^1.2", "fault_point^1.2", "spare2", "spare1",
	}

	faultCodeFields = []string{"faultcode", "fault_code", "dtc", "dtc_code", "spare4"}

	modelYearFields = []string{"modelyear", "model_year", "year", "spare1", "spare15", "vehicletype"}

	faultPointSourceFields = []string{
		"discussion", "fault_point", "vehiclebrand", "vehicle_brand", "vehicletype", "vehicle_model",
		"modelyear", "model_year", "brand", "system", "system_name", "part", "component",
		"component_name", "control_unit", "faultcode", "fault_code", "spare4", "dtc",
		"searchNum", "search_num", "popularity", "popularity_score", "tags", "labels",
	}
)

// Filters narrow a phenomena search. Each set field becomes one clause that
// accepts any of the known field spellings.
type Filters struct {
	System      string `json:"system,omitempty"`
	Part        string `json:"part,omitempty"`
	VehicleType string `json:"vehicle_type,omitempty"`
	FaultCode   string `json:"fault_code,omitempty"`
}

// Clauses builds the filter clauses; an empty Filters yields none.
func (f Filters) Clauses() []any {
	clauses := []any{}
	if f.System != "" {
		clauses = append(clauses, anyOf(
			map[string]any{"term": map[string]any{"system.keyword": f.System}},
			map[string]any{"term": map[string]any{"system_name.keyword": f.System}},
			matchPhrase("system", f.System),
			matchPhrase("system_name", f.System),
		))
	}
	if f.Part != "" {
		clauses = append(clauses, multiMatch(f.Part, partFilterFields))
	}
	if f.VehicleType != "" {
		clauses = append(clauses, multiMatch(f.VehicleType, vehicleTypeFilterFields))
	}
	if f.FaultCode != "" {
		clauses = append(clauses, anyOf(phraseEach(faultCodeFields, f.FaultCode)...))
	}
	return clauses
}

func matchPhrase(field, value string) map[string]any {
	return map[string]any{"match_phrase": map[string]any{field: value}}
}

func phraseEach(fields []string, value string) []any {
	out := make([]any, 0, len(fields))
	for _, field := range fields {
		out = append(out, matchPhrase(field, value))
	}
	return out
}

func anyOf(should ...any) map[string]any {
	return map[string]any{"bool": map[string]any{"should": should, "minimum_should_match": 1}}
}

func multiMatch(query string, fields []string) map[string]any {
	return map[string]any{"multi_match": map[string]any{
		"query":  query,
		"fields": fields,
		"type":   "best_fields",
	}}
}

func highlightField(fragmentSize int) map[string]any {
	return map[string]any{
		"fragment_size":       fragmentSize,
		"number_of_fragments": 1,
		"pre_tags":            []string{"<mark>"},
		"post_tags":           []string{"</mark>"},
	}
}

func sortDesc(field, unmappedType string) map[string]any {
	return map[string]any{field: map[string]any{"order": "desc", "missing": "_last", "unmapped_type": unmappedType}}
}

// lexicalBody is the keyword half of a phenomena search.
func lexicalBody(query string, filters []any, size int) map[string]any {
	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": map[string]any{
					"multi_match": map[string]any{
						"query":                query,
						"fields":               phenomenaFields,
						"type":                 "best_fields",
						"fuzziness":            "AUTO",
						"minimum_should_match": "75%",
					},
				},
				"filter": filters,
				"should": []any{
					map[string]any{"range": map[string]any{"popularity": map[string]any{"gte": 50}}},
					map[string]any{"range": map[string]any{"popularity_score": map[string]any{"gte": 50}}},
				},
			},
		},
		"size": size,
		"highlight": map[string]any{
			"fields": map[string]any{
				"text":          highlightField(150),
				"symptoms":      highlightField(150),
				"fault_symptom": highlightField(150),
				"discussion":    highlightField(100),
				"fault_point":   highlightField(100),
			},
		},
		"sort": []any{
			map[string]any{"_score": map[string]any{"order": "desc"}},
			sortDesc("popularity", "float"),
			sortDesc("search_num", "integer"),
			sortDesc("searchNum", "integer"),
		},
	}
}

// knnBody is the vector half of a phenomena search in the given dialect.
func knnBody(dialect Dialect, field string, vector []float32, k, numCandidates int, filters []any) map[string]any {
	boolQuery := map[string]any{}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}

	if dialect == DialectNested {
		boolQuery["must"] = []any{map[string]any{
			"knn": map[string]any{
				field: map[string]any{
					"vector":         vector,
					"k":              k,
					"num_candidates": numCandidates,
				},
			},
		}}
		return map[string]any{"size": k, "query": map[string]any{"bool": boolQuery}}
	}

	return map[string]any{
		"size":  k,
		"query": map[string]any{"bool": boolQuery},
		"knn": map[string]any{
			"field":          field,
			"query_vector":   vector,
			"k":              k,
			"num_candidates": numCandidates,
		},
	}
}

// FaultPointRequest looks up fault-point discussions for a vehicle and symptom.
type FaultPointRequest struct {
	VehicleBrand string `json:"vehicle_brand,omitempty"`
	VehicleName  string `json:"vehicle_name,omitempty"`
	ModelYear    string `json:"model_year,omitempty"`
	FaultCode    string `json:"fault_code,omitempty"`
	ControlUnit  string `json:"control_unit,omitempty"`
	Symptom      string `json:"symptom,omitempty"`
	Size         int    `json:"size"`
}

func faultPointBody(req FaultPointRequest) map[string]any {
	must := []any{}
	if req.VehicleBrand != "" {
		must = append(must, multiMatch(req.VehicleBrand, vehicleBrandFields))
	}
	if req.VehicleName != "" {
		must = append(must, multiMatch(req.VehicleName, vehicleNameFields))
	}
	if req.ModelYear != "" {
		must = append(must, anyOf(phraseEach(modelYearFields, req.ModelYear)...))
	}
	if req.ControlUnit != "" {
		must = append(must, multiMatch(req.ControlUnit, controlUnitFields))
	}
	if req.Symptom != "" {
		must = append(must, map[string]any{"multi_match": map[string]any{
			"query":                req.Symptom,
			"fields":               faultPointTextFields,
			"type":                 "best_fields",
			"fuzziness":            "AUTO",
			"minimum_should_match": "70%",
		}})
	}
	if len(must) == 0 {
		must = append(must, map[string]any{"match_all": map[string]any{}})
	}

	boolQuery := map[string]any{"must": must}
	if req.FaultCode != "" {
		boolQuery["should"] = phraseEach(faultCodeFields, req.FaultCode)
		boolQuery["minimum_should_match"] = 1
	}

	return map[string]any{
		"query": map[string]any{"bool": boolQuery},
		"size":  max(1, req.Size),
		"highlight": map[string]any{
			"fields": map[string]any{
				"discussion":  highlightField(150),
				"fault_point": highlightField(150),
			},
		},
		"_source": faultPointSourceFields,
	}
}

func statsBody() map[string]any {
	return map[string]any{
		"size":             0,
		"track_total_hits": true,
		"aggs": map[string]any{
			"systems":          map[string]any{"terms": map[string]any{"field": "system.keyword", "size": 20}},
			"vehicletypes":     map[string]any{"terms": map[string]any{"field": "vehicletype.keyword", "size": 20}},
			"popularity_stats": map[string]any{"stats": map[string]any{"field": "popularity"}},
		},
	}
}
