package observation

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"traqo/internal/logger"
	"traqo/internal/types"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// feedSchema 观测流记录的最小结构约束。
// 周期字段 fwd_<n>_* 是动态的，交给 gjson 按需提取。
const feedSchema = `{
  "type": "object",
  "required": ["pattern", "ticker", "timeframe", "timestamp", "close"],
  "properties": {
    "pattern":   {"type": "string", "minLength": 1},
    "ticker":    {"type": "string", "minLength": 1},
    "sector":    {"type": "string"},
    "timeframe": {"type": "string", "minLength": 1},
    "trend_short":    {"type": "string"},
    "vol_zone":       {"type": "string"},
    "price_position": {"type": "string"},
    "market_regime":  {"type": "string"},
    "timestamp": {"type": "string", "minLength": 1},
    "close":     {"type": "number", "exclusiveMinimum": 0},
    "atr":       {"type": "number", "minimum": 0}
  }
}`

var feedHorizons = types.AllHorizons

// Dataset 加载后的观测集合与全局基准率。
type Dataset struct {
	Observations []types.Observation
	// BaseRates 各周期下每个方向的无条件占比（0~1）。
	BaseRates map[types.Horizon]map[types.Direction]float64
}

// Loader 负责读取并校验观测流文件。
type Loader struct {
	schema         *jsonschema.Schema
	strict         bool
	primaryHorizon types.Horizon
}

// NewLoader 编译记录 schema。strict 模式下非法记录直接报错，否则跳过并告警。
func NewLoader(strict bool, primaryHorizon types.Horizon) (*Loader, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("observation.json", strings.NewReader(feedSchema)); err != nil {
		return nil, fmt.Errorf("add observation schema failed: %w", err)
	}
	schema, err := compiler.Compile("observation.json")
	if err != nil {
		return nil, fmt.Errorf("compile observation schema failed: %w", err)
	}
	return &Loader{schema: schema, strict: strict, primaryHorizon: primaryHorizon}, nil
}

// Load 读取观测流 JSON，返回带基准率的数据集。
// 缺少主周期结果的记录不参与统计（外部管线尚未回填）。
func (l *Loader) Load(path string) (*Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read observation feed failed: %w", err)
	}
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("observation feed must be a JSON array: %s", path)
	}

	var (
		obs     []types.Observation
		skipped int
	)
	for i, rec := range parsed.Array() {
		o, err := l.parseRecord(rec)
		if err != nil {
			if l.strict {
				return nil, fmt.Errorf("observation feed record %d invalid: %w", i, err)
			}
			skipped++
			continue
		}
		if !o.HasOutcome(l.primaryHorizon) {
			skipped++
			continue
		}
		o.ID = len(obs)
		obs = append(obs, o)
	}
	if skipped > 0 {
		logger.Warnf("观测流加载: 跳过 %d 条无效或无结果记录", skipped)
	}
	if len(obs) == 0 {
		return nil, fmt.Errorf("observation feed contains no usable records: %s", path)
	}
	sort.SliceStable(obs, func(a, b int) bool { return obs[a].Timestamp.Before(obs[b].Timestamp) })
	for i := range obs {
		obs[i].ID = i
	}

	ds := &Dataset{Observations: obs, BaseRates: computeBaseRates(obs)}
	logger.Infof("观测流加载完成: %d 条记录, 主周期 %s", len(obs), l.primaryHorizon.Label())
	return ds, nil
}

func (l *Loader) parseRecord(rec gjson.Result) (types.Observation, error) {
	if err := l.schema.Validate(rec.Value()); err != nil {
		return types.Observation{}, err
	}
	ts, err := parseTimestamp(rec.Get("timestamp").String())
	if err != nil {
		return types.Observation{}, fmt.Errorf("bad timestamp: %w", err)
	}
	o := types.Observation{
		Patterns:   splitPatterns(rec.Get("pattern").String()),
		Instrument: strings.ToLower(strings.TrimSpace(rec.Get("ticker").String())),
		Sector:     strings.ToLower(strings.TrimSpace(rec.Get("sector").String())),
		Timeframe:  strings.ToLower(strings.TrimSpace(rec.Get("timeframe").String())),
		TrendShort: strings.ToLower(strings.TrimSpace(rec.Get("trend_short").String())),
		VolZone:    strings.ToLower(strings.TrimSpace(rec.Get("vol_zone").String())),
		PricePos:   strings.ToLower(strings.TrimSpace(rec.Get("price_position").String())),
		Regime:     strings.ToLower(strings.TrimSpace(rec.Get("market_regime").String())),
		Timestamp:  ts,
		Close:      rec.Get("close").Float(),
		ATR:        rec.Get("atr").Float(),
		Outcomes:   make(map[int]types.HorizonOutcome),
	}
	if len(o.Patterns) == 0 {
		return types.Observation{}, fmt.Errorf("empty pattern label")
	}
	for _, h := range feedHorizons {
		ret := rec.Get(fmt.Sprintf("fwd_%d_return", h.Days()))
		dir := rec.Get(fmt.Sprintf("fwd_%d_direction", h.Days()))
		if !ret.Exists() || !dir.Exists() {
			continue
		}
		d := types.ParseDirection(dir.String())
		if !d.Valid() {
			return types.Observation{}, fmt.Errorf("bad direction %q at horizon %d", dir.String(), h.Days())
		}
		o.Outcomes[h.Days()] = types.HorizonOutcome{
			ReturnPct: ret.Float(),
			Direction: d,
			MFE:       rec.Get(fmt.Sprintf("fwd_%d_mfe", h.Days())).Float(),
			MAE:       rec.Get(fmt.Sprintf("fwd_%d_mae", h.Days())).Float(),
		}
	}
	return o, nil
}

func splitPatterns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp: %s", raw)
}

func computeBaseRates(obs []types.Observation) map[types.Horizon]map[types.Direction]float64 {
	rates := make(map[types.Horizon]map[types.Direction]float64, len(feedHorizons))
	for _, h := range feedHorizons {
		counts := map[types.Direction]int{}
		total := 0
		for _, o := range obs {
			out, ok := o.Outcomes[h.Days()]
			if !ok {
				continue
			}
			counts[out.Direction]++
			total++
		}
		byDir := make(map[types.Direction]float64, 3)
		for _, d := range []types.Direction{types.DirectionBullish, types.DirectionBearish, types.DirectionNeutral} {
			if total > 0 {
				byDir[d] = float64(counts[d]) / float64(total)
			}
		}
		rates[h] = byDir
	}
	return rates
}
