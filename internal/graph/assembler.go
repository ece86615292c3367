package graph

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"

	"data-intelligence/internal/cluster"
	"data-intelligence/internal/neural"
	"data-intelligence/internal/schema"
)

const (
	clusterRingRadius = 400.0
	clusterZStep      = 100.0
	jitterRange       = 15.0

	predictedMinConfidence = 0.6
)

// NeuralView 组装所需的神经核心只读视图
type NeuralView interface {
	Gravity(table string) (float64, bool)
	HubScore(table string) (float64, bool)
	PredictLinks(table string, candidates []string) []neural.Prediction
}

// Assembler 组装渲染载荷。除初始抖动外输出完全确定
type Assembler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewAssembler 以固定种子创建组装器
func NewAssembler(seed uint64) *Assembler {
	return &Assembler{rng: rand.New(rand.NewPCG(seed, seed))}
}

// Assemble 由结构、聚类映射（可为 nil）和神经核心（可为 nil）生成节点与边
func (a *Assembler) Assemble(s *schema.Schema, cm *cluster.Map, core NeuralView) *Payload {
	p := NewPayload()
	p.AddNode(hubNode(s.Len()))
	if cm != nil {
		p.Method = string(cm.Method)
	}

	var centers map[string][3]float64
	if cm != nil {
		centers = clusterCenters(cm)
	}
	offsets := memberOffsets(s, cm)

	a.mu.Lock()
	for _, t := range s.Tables {
		p.AddNode(a.tableNode(t, cm, centers, offsets, core))
	}
	a.mu.Unlock()

	for _, t := range s.Tables {
		p.AddEdge(&Edge{
			Source:       HubID,
			Target:       NodeID(t.Name),
			Type:         EdgeTypeCoreLink,
			LinkStrength: 0.1,
			Width:        0.5,
			Opacity:      0.15,
			Confidence:   1,
			EdgeGlow:     edgeGlow(EdgeTypeCoreLink, 0.1),
		})
	}
	addForeignKeyEdges(p, s)
	addMatchingColumnEdges(p, s)
	addPredictedEdges(p, s, core)
	return p
}

func hubNode(tables int) *Node {
	return &Node{
		ID:        HubID,
		Type:      NodeTypeHub,
		Name:      HubID,
		Entity:    "core",
		TableType: schema.TableTypeUnknown,
		Size:      math.Min(100, math.Max(70, 70+float64(tables)/10)),
		Color:     colorHub,
		Columns:   []ColumnInfo{},
	}
}

func (a *Assembler) tableNode(t *schema.Table, cm *cluster.Map, centers map[string][3]float64,
	offsets map[string][3]float64, core NeuralView) *Node {
	gravity, hub := 1.0, 0.0
	if core != nil {
		if g, ok := core.Gravity(t.Name); ok {
			gravity = g
		}
		if h, ok := core.HubScore(t.Name); ok {
			hub = h
		}
	}
	rows := float64(t.RowCount)

	n := &Node{
		ID:              NodeID(t.Name),
		Type:            NodeTypeTable,
		Name:            t.Name,
		Entity:          t.BusinessEntity,
		TableType:       t.TableType,
		Size:            clamp(8, 60, 8+6*math.Log10(rows+1)+4*(gravity-1)),
		RowCount:        t.RowCount,
		NeuralGravity:   gravity,
		HubScore:        hub,
		ImportanceScore: t.ImportanceScore,
		Columns:         columnInfos(t),
		ForeignKeys:     append([]schema.ForeignKey{}, t.ForeignKeys...),
	}
	n.NodeGlow = NodeGlow(t.RowCount, t.ImportanceScore, gravity)
	n.Vitality = Vitality(t.RowCount, t.ImportanceScore)

	label, clustered := cm.Cluster(t.Name)
	if clustered {
		c := centers[label]
		o := offsets[t.Name]
		n.TargetX, n.TargetY, n.TargetZ = c[0]+o[0], c[1]+o[1], c[2]+o[2]
		n.Cluster = label
		n.Color = clusterColor(cm.Method, label)
		n.Ring = cm.Index(label)
	} else {
		n.TargetX, n.TargetY, n.TargetZ = statisticalPosition(t, gravity)
		n.Color = entityColor(t, hub)
		n.Ring = importanceRing(t.ImportanceScore)
	}
	n.X = n.TargetX + a.jitter()
	n.Y = n.TargetY + a.jitter()
	n.Z = n.TargetZ + a.jitter()
	return n
}

func (a *Assembler) jitter() float64 {
	return (a.rng.Float64()*2 - 1) * jitterRange
}

// clusterCenters 簇中心均匀分布在半径 400 的环上，z 按 i mod 3 错层
func clusterCenters(cm *cluster.Map) map[string][3]float64 {
	out := make(map[string][3]float64, len(cm.Labels))
	n := float64(len(cm.Labels))
	for i, label := range cm.Labels {
		theta := 2 * math.Pi * float64(i) / n
		out[label] = [3]float64{
			clusterRingRadius * math.Cos(theta),
			clusterRingRadius * math.Sin(theta),
			float64(i%3-1) * clusterZStep,
		}
	}
	return out
}

// memberOffsets 簇内成员排在半径 80+5·|簇| 的小圆上
func memberOffsets(s *schema.Schema, cm *cluster.Map) map[string][3]float64 {
	out := make(map[string][3]float64, s.Len())
	if cm == nil {
		return out
	}
	members := make(map[string][]string)
	for _, t := range s.Tables {
		if l, ok := cm.Cluster(t.Name); ok {
			members[l] = append(members[l], t.Name)
		}
	}
	for _, names := range members {
		m := float64(len(names))
		r := 80 + 5*m
		for j, name := range names {
			phi := 2 * math.Pi * float64(j) / m
			out[name] = [3]float64{r * math.Cos(phi), r * math.Sin(phi), 0}
		}
	}
	return out
}

// statisticalPosition 无聚类时按行数、宽度、引力定位
func statisticalPosition(t *schema.Table, gravity float64) (x, y, z float64) {
	x = clamp(-800, 800, 200*(math.Log10(math.Max(1, float64(t.RowCount)))-3.0))
	y = clamp(-500, 500, 40*float64(len(t.Columns)+2*len(t.ForeignKeys)-10))
	z = clamp(-200, 600, 150*(gravity-1.0))
	return
}

// importanceRing 重要性 1..20 映射到 0..4 环
func importanceRing(importance int) int {
	return min(4, max(0, (importance-1)/4))
}

func addForeignKeyEdges(p *Payload, s *schema.Schema) {
	for _, t := range s.Tables {
		for _, fk := range t.ForeignKeys {
			p.AddEdge(&Edge{
				Source:           NodeID(t.Name),
				Target:           NodeID(fk.ReferencedTable),
				Type:             EdgeTypeFK,
				LinkStrength:     0.95,
				Width:            3,
				Opacity:          1,
				Confidence:       1,
				Reasoning:        fmt.Sprintf("%s.%s -> %s.%s", t.Name, fk.Column, fk.ReferencedTable, fk.ReferencedColumn),
				TrafficIntensity: traffic(t.RowCount),
				EdgeGlow:         edgeGlow(EdgeTypeFK, 1),
				Evidence: []Evidence{{
					Type:        "foreign_key",
					Score:       1,
					Description: "数据库声明的外键约束",
				}},
			})
		}
	}
}

func addMatchingColumnEdges(p *Payload, s *schema.Schema) {
	for i := 0; i < len(s.Tables); i++ {
		for j := i + 1; j < len(s.Tables); j++ {
			a, b := s.Tables[i], s.Tables[j]
			shared := schema.SharedColumns(a, b)
			if len(shared) == 0 {
				continue
			}
			strength := math.Min(0.7, 0.3+0.1*float64(len(shared)))
			p.AddEdge(&Edge{
				Source:           NodeID(a.Name),
				Target:           NodeID(b.Name),
				Type:             EdgeTypeMatchingCol,
				LinkStrength:     strength,
				Width:            1 + 2*strength,
				Opacity:          strength,
				Confidence:       strength,
				Reasoning:        "共享列: " + strings.Join(shared, ", "),
				TrafficIntensity: traffic(min(a.RowCount, b.RowCount)),
				EdgeGlow:         edgeGlow(EdgeTypeMatchingCol, strength),
				Evidence: []Evidence{{
					Type:        "shared_column",
					Score:       strength,
					Description: fmt.Sprintf("%d 个同名非通用列", len(shared)),
				}},
			})
		}
	}
}

func addPredictedEdges(p *Payload, s *schema.Schema, core NeuralView) {
	names := s.TableNames()
	predict := neural.PredictLinks
	if core != nil {
		predict = core.PredictLinks
	}
	for _, t := range s.Tables {
		for _, pred := range predict(t.Name, names) {
			if pred.Confidence <= predictedMinConfidence {
				continue
			}
			conf := clamp(0, 1, pred.Confidence)
			p.AddEdge(&Edge{
				Source:       NodeID(t.Name),
				Target:       NodeID(pred.Target),
				Type:         EdgeTypeAIPredicted,
				LinkStrength: conf,
				Width:        1,
				Opacity:      0.6,
				Confidence:   conf,
				Reasoning:    pred.Reasoning,
				EdgeGlow:     edgeGlow(EdgeTypeAIPredicted, conf),
				Evidence: []Evidence{{
					Type:        "name_root",
					Score:       conf,
					Description: pred.Relationship,
				}},
			})
		}
	}
}

// NodeGlow 0.8·log10(rows+1) + 0.6·importance（无重要性时用引力）
func NodeGlow(rows int64, importance int, gravity float64) float64 {
	w := float64(importance)
	if importance <= 0 {
		w = gravity
	}
	return 0.8*math.Log10(float64(rows)+1) + 0.6*w
}

// Vitality clamp(0, 100, 20·log10(rows) + 5·importance)
func Vitality(rows int64, importance int) float64 {
	return clamp(0, 100, 20*math.Log10(math.Max(1, float64(rows)))+5*float64(importance))
}

// edgeGlow 1.2·log10(R+1) + 0.8·similarity；外键 R=100、预测 R=10、其他 R=1
func edgeGlow(t EdgeType, strength float64) float64 {
	r, sim := 1.0, strength
	switch t {
	case EdgeTypeFK:
		r, sim = 100, 1
	case EdgeTypeAIPredicted:
		r = 10
	}
	return 1.2*math.Log10(r+1) + 0.8*sim
}

func traffic(rows int64) float64 {
	return clamp(0, 1, math.Log10(float64(max(0, rows))+1)/6)
}

func clamp(lo, hi, v float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
