package temporal

import (
	"regexp"
	"strings"

	"data-intelligence/internal/schema"
)

// timestampPatterns 时间列名优先级，从高到低
var timestampPatterns = []*regexp.Regexp{
	regexp.MustCompile(`created_at`),
	regexp.MustCompile(`registered_at`),
	regexp.MustCompile(`birth_date`),
	regexp.MustCompile(`timestamp`),
	regexp.MustCompile(`date_added`),
	regexp.MustCompile(`recorded_at`),
	regexp.MustCompile(`joining_date`),
	regexp.MustCompile(`^created$`),
	regexp.MustCompile(`^date$`),
	regexp.MustCompile(`^year$`),
	regexp.MustCompile(`^dob$`),
	regexp.MustCompile(`start_date`),
	regexp.MustCompile(`end_date`),
	regexp.MustCompile(`event_date`),
}

// BirthColumn 选中的出生时间列
type BirthColumn struct {
	Name string
	// Year 整数 year 列：MIN(year) 映射到当年 1 月 1 日
	Year bool
}

// ChooseBirthColumn 按优先级选列。同一优先级内类型为 timestamp/date 的列优先
func ChooseBirthColumn(t *schema.Table) (BirthColumn, bool) {
	for _, re := range timestampPatterns {
		for _, c := range t.Columns {
			if re.MatchString(strings.ToLower(c.Name)) && schema.IsTemporalType(c.Type) {
				return BirthColumn{Name: c.Name}, true
			}
		}
	}
	for _, re := range timestampPatterns {
		for _, c := range t.Columns {
			if !re.MatchString(strings.ToLower(c.Name)) {
				continue
			}
			return BirthColumn{
				Name: c.Name,
				Year: strings.EqualFold(c.Name, "year") && schema.IsIntegerType(c.Type),
			}, true
		}
	}
	return BirthColumn{}, false
}
