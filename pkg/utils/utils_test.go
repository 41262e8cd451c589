package utils

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/suite"
)

type UtilsTestSuite struct {
	suite.Suite
}

func TestUtilsSuite(t *testing.T) {
	suite.Run(t, new(UtilsTestSuite))
}

type window struct {
	Train string `json:"train" jsonschema:"required,description=Training length"`
	Test  string `json:"test"`
}

type sweep struct {
	Name    string   `json:"name" jsonschema:"required"`
	Window  window   `json:"window"`
	Windows []window `json:"windows,omitempty"`
}

func (suite *UtilsTestSuite) TestToJSONSchema() {
	schema, err := ToJSONSchema(sweep{}, "sweep")
	suite.Require().NoError(err)

	var result map[string]any
	suite.Require().NoError(json.Unmarshal([]byte(schema), &result))

	suite.Equal("sweep", result["title"])
	suite.Equal("http://json-schema.org/draft-07/schema#", result["$schema"])
	suite.Equal([]any{"name"}, result["required"])
	suite.NotContains(result, "$defs")

	properties, ok := result["properties"].(map[string]any)
	suite.Require().True(ok)
	suite.Contains(properties, "windows")

	inner, ok := properties["window"].(map[string]any)
	suite.Require().True(ok)
	suite.Equal([]any{"train"}, inner["required"])
}
