package hybrid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiltersClauses(t *testing.T) {
	assert.Empty(t, Filters{}.Clauses())

	clauses := Filters{System: "制动系统", Part: "ABS泵", VehicleType: "朗逸", FaultCode: "C0035"}.Clauses()
	require.Len(t, clauses, 4)

	system := clauses[0].(map[string]any)["bool"].(map[string]any)
	assert.Equal(t, 1, system["minimum_should_match"])
	should := system["should"].([]any)
	require.Len(t, should, 4)
	assert.Equal(t, map[string]any{"term": map[string]any{"system.keyword": "制动系统"}}, should[0])

	part := clauses[1].(map[string]any)["multi_match"].(map[string]any)
	assert.Equal(t, "ABS泵", part["query"])
	assert.Equal(t, "best_fields", part["type"])

	code := clauses[3].(map[string]any)["bool"].(map[string]any)
	assert.Len(t, code["should"], len(faultCodeFields))
}

func TestKNNBodyDialects(t *testing.T) {
	vec := []float32{0.1, 0.2}
	filters := Filters{System: "发动机"}.Clauses()

	top := knnBody(DialectTopLevel, "text_vector", vec, 10, 200, filters)
	knn := top["knn"].(map[string]any)
	assert.Equal(t, "text_vector", knn["field"])
	assert.Equal(t, 10, knn["k"])
	assert.Equal(t, 200, knn["num_candidates"])
	assert.Equal(t, filters, top["query"].(map[string]any)["bool"].(map[string]any)["filter"])

	nested := knnBody(DialectNested, "text_vector", vec, 10, 200, nil)
	assert.NotContains(t, nested, "knn")
	boolQuery := nested["query"].(map[string]any)["bool"].(map[string]any)
	assert.NotContains(t, boolQuery, "filter")
	must := boolQuery["must"].([]any)
	require.Len(t, must, 1)
	field := must[0].(map[string]any)["knn"].(map[string]any)["text_vector"].(map[string]any)
	assert.Equal(t, vec, field["vector"])
	assert.Equal(t, 200, field["num_candidates"])
}

func TestLexicalBody(t *testing.T) {
	body := lexicalBody("刹车异响", []any{}, 7)
	assert.Equal(t, 7, body["size"])

	mm := body["query"].(map[string]any)["bool"].(map[string]any)["must"].(map[string]any)["multi_match"].(map[string]any)
	assert.Equal(t, "AUTO", mm["fuzziness"])
	assert.Equal(t, "75%", mm["minimum_should_match"])
	assert.Equal(t, phenomenaFields, mm["fields"])
}

func TestFaultPointBodyDefaultsToMatchAll(t *testing.T) {
	body := faultPointBody(FaultPointRequest{})
	assert.Equal(t, 1, body["size"])
	must := body["query"].(map[string]any)["bool"].(map[string]any)["must"].([]any)
	assert.Equal(t, []any{map[string]any{"match_all": map[string]any{}}}, must)
}
