package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// builtinVocabulary holds short tokens for field names that show up in the
// land-use and watershed layers this tool is fed.
var builtinVocabulary = map[string]string{
	"名称":   "name",
	"类型":   "type",
	"项目":   "proj",
	"项目名称": "proj_name",
	"编号":   "code",
	"面积":   "area",
	"实施年":  "impl_year",
	"年份":   "year",
	"建设":   "build",
	"建设单位": "builder",
	"单位":   "unit",
	"流域":   "basin",
	"一级流域": "basin_l1",
	"二级流域": "basin_l2",
	"治理单元": "mgmt_unit",
	"行政区":  "admin",
	"省":    "province",
	"市":    "city",
	"县":    "county",
	"乡镇":   "town",
	"地址":   "address",
	"投资":   "invest",
	"状态":   "status",
	"备注":   "remark",
}

// LoadVocabulary reads extra name→token substitutions from a YAML mapping.
// Every token must already be a legal field name.
func LoadVocabulary(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vocabulary %s: %w", path, err)
	}
	vocab := make(map[string]string)
	if err := yaml.Unmarshal(data, &vocab); err != nil {
		return nil, fmt.Errorf("parsing vocabulary %s: %w", path, err)
	}
	for name, token := range vocab {
		if !IsValid(token) {
			return nil, fmt.Errorf("vocabulary %s: token %q for %q is not a valid field name", path, token, name)
		}
	}
	return vocab, nil
}
