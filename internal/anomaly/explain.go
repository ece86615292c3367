package anomaly

import "fmt"

type templateKey struct {
	metric    string
	direction Direction
}

// templates 指标 × 方向的解释模板，参数依次为当前值、期望值、z
var templates = map[templateKey]string{
	{MetricTransactionRate, DirectionSpike}:    "交易速率 %.1f 远高于常态 %.1f (z=%.1f)，可能是批量导入或流量突增",
	{MetricTransactionRate, DirectionDrop}:     "交易速率 %.1f 远低于常态 %.1f (z=%.1f)，上游写入可能中断",
	{MetricFraudAlerts, DirectionSpike}:        "欺诈告警 %.0f 条，明显高于常态 %.1f (z=%.1f)，建议立即排查",
	{MetricFraudAlerts, DirectionDrop}:         "欺诈告警 %.0f 条，低于常态 %.1f (z=%.1f)，检测规则可能失效",
	{MetricFailedTransactions, DirectionSpike}: "失败交易 %.0f 笔，高于常态 %.1f (z=%.1f)，支付通道或下游服务可能异常",
	{MetricFailedTransactions, DirectionDrop}:  "失败交易 %.0f 笔，低于常态 %.1f (z=%.1f)",
	{MetricAverageAmount, DirectionSpike}:      "平均金额 %.2f 高于常态 %.2f (z=%.1f)，可能存在大额异常交易",
	{MetricAverageAmount, DirectionDrop}:       "平均金额 %.2f 低于常态 %.2f (z=%.1f)，可能存在小额试探交易",
}

// Explain 按模板生成说明，未知指标使用通用模板
func Explain(a Anomaly) string {
	if tpl, ok := templates[templateKey{a.Metric, a.Direction}]; ok {
		return fmt.Sprintf(tpl, a.Current, a.Expected, a.ZScore)
	}
	word := "高于"
	if a.Direction == DirectionDrop {
		word = "低于"
	}
	return fmt.Sprintf("%s 当前值 %.2f %s期望 %.2f (z=%.1f)", a.Metric, a.Current, word, a.Expected, a.ZScore)
}
