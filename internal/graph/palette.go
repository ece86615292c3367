package graph

import (
	"strings"

	"data-intelligence/internal/cluster"
	"data-intelligence/internal/schema"
)

var (
	// heuristicPalette 前缀聚类配色
	heuristicPalette = []string{"#00f2ff", "#7000ff", "#ff0055"}
	// networkPalette 社区聚类配色
	networkPalette = []string{"#00ff9d", "#ffb800", "#ff3d00", "#00b8ff"}
)

const (
	colorHub       = "#ffffff"
	colorFraud     = "#ff3355"
	colorCore      = "#00ff88"
	colorFact      = "#ffd700"
	colorDimension = "#00e5ff"
	colorOther     = "#888888"

	coreHubScore = 0.8
)

// charSum 字符码之和，进程重启后保持不变
func charSum(s string) int {
	n := 0
	for _, r := range s {
		n += int(r)
	}
	return n
}

// clusterColor 按聚类方法选色
func clusterColor(method cluster.Method, label string) string {
	if method == cluster.MethodNetwork {
		if i, ok := cluster.NetworkLabelIndex(label); ok {
			return networkPalette[i%len(networkPalette)]
		}
		return networkPalette[charSum(label)%len(networkPalette)]
	}
	return heuristicPalette[charSum(label)%len(heuristicPalette)]
}

// entityColor 无聚类时按实体、类型选色
func entityColor(t *schema.Table, hubScore float64) string {
	name := strings.ToLower(t.Name)
	switch {
	case t.BusinessEntity == "fraud" || strings.Contains(name, "fraud") || strings.Contains(name, "alert"):
		return colorFraud
	case hubScore >= coreHubScore:
		return colorCore
	case t.TableType == schema.TableTypeFact:
		return colorFact
	case t.TableType == schema.TableTypeDimension:
		return colorDimension
	}
	return colorOther
}
