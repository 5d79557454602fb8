package levels

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// ErrInvalidAnchor is returned when a level computation is requested for a
// non-positive anchor price.
var ErrInvalidAnchor = errors.New("levels: anchor price must be positive")

// Config controls Square-of-Nine level generation.
type Config struct {
	// Increments holds one angle increment per configured angle, in angle
	// order (index 0 is the lowest angle).
	Increments []float64
	// NumValues is the number of levels generated per angle.
	NumValues int
	// TickSize is the instrument tick; computed levels are rounded to it.
	TickSize float64
	// DeviationPct is the fraction the anchor may drift from the cached
	// anchor before a recompute is forced (e.g. 0.005 = 0.5%).
	DeviationPct float64
}

// Validate checks the generation parameters.
func (c Config) Validate() error {
	if len(c.Increments) == 0 {
		return fmt.Errorf("levels: no angle increments configured")
	}
	for i, inc := range c.Increments {
		if inc <= 0 {
			return fmt.Errorf("levels: increment %d must be positive, got %v", i, inc)
		}
	}
	if c.NumValues <= 0 {
		return fmt.Errorf("levels: num_values must be positive, got %d", c.NumValues)
	}
	if c.TickSize < 0 {
		return fmt.Errorf("levels: tick size must not be negative, got %v", c.TickSize)
	}
	return nil
}

// Level is one computed price level on one angle.
type Level struct {
	Angle int     `json:"angle"` // angle index into Config.Increments
	Index int     `json:"index"` // step index along the angle
	Value float64 `json:"value"`
}

// Set holds all levels computed from one anchor. Each angle's sequence is
// strictly ascending by value.
type Set struct {
	Anchor     float64   `json:"anchor"`
	ComputedAt time.Time `json:"computed_at"`
	ByAngle    [][]Level `json:"by_angle"`
}

// Compute derives a Set from the anchor: base = floor(sqrt(anchor)), then for
// each angle the sequence (base + i*increment)^2 for i in 0..NumValues,
// rounded to the instrument tick. Pure and deterministic.
func Compute(anchor float64, cfg Config) (*Set, error) {
	if anchor <= 0 {
		return nil, ErrInvalidAnchor
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := math.Floor(math.Sqrt(anchor))
	set := &Set{
		Anchor:     anchor,
		ComputedAt: time.Now(),
		ByAngle:    make([][]Level, len(cfg.Increments)),
	}

	for angle, inc := range cfg.Increments {
		seq := make([]Level, 0, cfg.NumValues+1)
		prev := math.Inf(-1)
		for i := 0; i <= cfg.NumValues; i++ {
			root := base + float64(i)*inc
			v := roundToTick(root*root, cfg.TickSize)
			// Tick rounding can collapse adjacent steps near the base;
			// keep the sequence strictly ascending.
			if v <= prev {
				continue
			}
			seq = append(seq, Level{Angle: angle, Index: i, Value: v})
			prev = v
		}
		set.ByAngle[angle] = seq
	}
	return set, nil
}

func roundToTick(v, tick float64) float64 {
	if tick <= 0 {
		return v
	}
	return math.Round(v/tick) * tick
}

// NearestAbove returns the closest level strictly above price. angle restricts
// the search to one angle index; pass AllAngles to search every angle, in
// which case equal-distance ties resolve to the lower angle index.
func (s *Set) NearestAbove(price float64, angle int) (Level, bool) {
	return s.nearest(price, angle, true)
}

// NearestBelow returns the closest level strictly below price.
func (s *Set) NearestBelow(price float64, angle int) (Level, bool) {
	return s.nearest(price, angle, false)
}

// AllAngles selects every configured angle in nearest-level searches.
const AllAngles = -1

func (s *Set) nearest(price float64, angle int, above bool) (Level, bool) {
	best := Level{}
	bestDist := math.Inf(1)
	found := false

	scan := func(seq []Level) {
		// Sequences are ascending; binary search for the boundary.
		i := sort.Search(len(seq), func(i int) bool { return seq[i].Value > price })
		var cand *Level
		if above {
			if i < len(seq) {
				cand = &seq[i]
			}
		} else {
			// Step back past levels equal to price.
			j := i - 1
			for j >= 0 && seq[j].Value >= price {
				j--
			}
			if j >= 0 {
				cand = &seq[j]
			}
		}
		if cand == nil {
			return
		}
		d := math.Abs(cand.Value - price)
		// Strictly-less keeps the lower angle on equal distance since
		// angles are scanned in ascending index order.
		if d < bestDist {
			best = *cand
			bestDist = d
			found = true
		}
	}

	if angle == AllAngles {
		for _, seq := range s.ByAngle {
			scan(seq)
		}
	} else if angle >= 0 && angle < len(s.ByAngle) {
		scan(s.ByAngle[angle])
	}
	return best, found
}

// Above returns up to n levels strictly above price on the given angle,
// nearest first. Used to build target ladders.
func (s *Set) Above(price float64, angle, n int) []Level {
	if angle < 0 || angle >= len(s.ByAngle) || n <= 0 {
		return nil
	}
	seq := s.ByAngle[angle]
	i := sort.Search(len(seq), func(i int) bool { return seq[i].Value > price })
	end := i + n
	if end > len(seq) {
		end = len(seq)
	}
	out := make([]Level, end-i)
	copy(out, seq[i:end])
	return out
}

// Below returns up to n levels strictly below price on the given angle,
// nearest first.
func (s *Set) Below(price float64, angle, n int) []Level {
	if angle < 0 || angle >= len(s.ByAngle) || n <= 0 {
		return nil
	}
	seq := s.ByAngle[angle]
	i := sort.Search(len(seq), func(i int) bool { return seq[i].Value >= price })
	start := i - n
	if start < 0 {
		start = 0
	}
	// Reverse so the nearest level comes first.
	out := make([]Level, 0, i-start)
	for j := i - 1; j >= start; j-- {
		out = append(out, seq[j])
	}
	return out
}

// Engine caches level sets per symbol, recomputing only when the anchor has
// drifted past the configured deviation threshold.
type Engine struct {
	cfg Config

	mu    sync.Mutex
	cache map[string]*Set
}

// NewEngine creates a level engine. The config must already be validated.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, cache: make(map[string]*Set)}
}

// Levels returns the level set for the symbol anchored at anchor, reusing the
// cached set while the anchor stays within the deviation threshold. Pass
// force=true on a new primary-timeframe bar to recompute unconditionally.
func (e *Engine) Levels(symbol string, anchor float64, force bool) (*Set, error) {
	if anchor <= 0 {
		return nil, ErrInvalidAnchor
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !force {
		if cached, ok := e.cache[symbol]; ok {
			drift := math.Abs(anchor-cached.Anchor) / cached.Anchor
			if drift <= e.cfg.DeviationPct {
				return cached, nil
			}
		}
	}

	set, err := Compute(anchor, e.cfg)
	if err != nil {
		return nil, err
	}
	e.cache[symbol] = set
	return set, nil
}

// Config returns the engine's generation parameters.
func (e *Engine) Config() Config { return e.cfg }
