package hybrid

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"
)

// HypothesisReport is one retained discrete hypothesis with its normalized
// weight, for the HTTP hypotheses endpoint.
type HypothesisReport struct {
	Modes  map[string]int `json:"modes"`
	Weight float64        `json:"weight"`
}

// robotSolver is the live inference state for one robot.
type robotSolver struct {
	isam    *ISAM
	updates int
	latest  HybridValues
	solved  bool
	asOf    time.Time
}

// EstimateTracker owns one incremental solver per robot and the latest MAP
// estimates, behind a RWMutex for the HTTP endpoints. An optional snapshot
// file persists the solved trees across restarts.
type EstimateTracker struct {
	mu           sync.RWMutex
	engine       EngineConfig
	solvers      map[string]*robotSolver
	snapshotPath string
}

// NewEstimateTracker creates a tracker with the given engine tuning.
func NewEstimateTracker(engine EngineConfig) *EstimateTracker {
	st := &EstimateTracker{
		engine:  engine,
		solvers: make(map[string]*robotSolver),
	}
	if engine.SnapshotPath != "" {
		st.snapshotPath = engine.SnapshotPath
		if err := st.loadSnapshot(); err != nil {
			log.Printf("[STATE] snapshot load skipped: %v", err)
		}
	}
	return st
}

func (st *EstimateTracker) solver(robotID string) *robotSolver {
	rs, ok := st.solvers[robotID]
	if !ok {
		rs = &robotSolver{isam: NewISAMWith(EliminationOptions{ParallelBranches: st.engine.ParallelBranches})}
		st.solvers[robotID] = rs
	}
	return rs
}

// ApplyBatch folds a measurement batch into the robot's solver and refreshes
// its MAP estimate. Pruning runs on the configured cadence.
func (st *EstimateTracker) ApplyBatch(robotID string, batch *MeasurementBatch) (HybridValues, error) {
	graph, err := batch.FactorGraph()
	if err != nil {
		return HybridValues{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	rs := st.solver(robotID)
	if err := rs.isam.Update(graph, nil); err != nil {
		return HybridValues{}, fmt.Errorf("updating solver for %s: %w", robotID, err)
	}
	rs.updates++

	if st.engine.PruneEvery > 0 && rs.updates%st.engine.PruneEvery == 0 {
		if err := rs.isam.Prune(st.engine.MaxHypotheses); err != nil {
			return HybridValues{}, fmt.Errorf("pruning solver for %s: %w", robotID, err)
		}
	}

	hv, err := rs.isam.Optimize()
	if err != nil {
		return HybridValues{}, fmt.Errorf("solving for %s: %w", robotID, err)
	}
	rs.latest = hv
	rs.solved = true
	rs.asOf = time.Now()

	if st.snapshotPath != "" {
		if err := st.saveSnapshot(); err != nil {
			log.Printf("[STATE] snapshot save failed: %v", err)
		}
	}
	return hv, nil
}

// Estimate returns the latest MAP estimate for a robot.
func (st *EstimateTracker) Estimate(robotID string) (HybridValues, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	rs, ok := st.solvers[robotID]
	if !ok || !rs.solved {
		return HybridValues{}, false
	}
	return rs.latest, true
}

// Estimates returns the latest MAP estimate for every solved robot.
func (st *EstimateTracker) Estimates() map[string]HybridValues {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make(map[string]HybridValues)
	for id, rs := range st.solvers {
		if rs.solved {
			out[id] = rs.latest
		}
	}
	return out
}

// Hypotheses lists the retained discrete hypotheses for a robot, normalized
// and sorted by weight, heaviest first.
func (st *EstimateTracker) Hypotheses(robotID string) []HypothesisReport {
	st.mu.RLock()
	defer st.mu.RUnlock()

	rs, ok := st.solvers[robotID]
	if !ok || rs.isam.Tree().Empty() {
		return nil
	}
	joint := rs.isam.Tree().discreteJoint()
	if joint == nil {
		return nil
	}

	var reports []HypothesisReport
	total := 0.0
	for _, dv := range assignmentsOf(joint.keys) {
		w := joint.table[tableIndex(joint.keys, dv)]
		if w <= 0 {
			continue
		}
		modes := make(map[string]int, len(dv))
		for k, v := range dv {
			modes[k.String()] = v
		}
		reports = append(reports, HypothesisReport{Modes: modes, Weight: w})
		total += w
	}
	if total > 0 {
		for i := range reports {
			reports[i].Weight /= total
		}
	}
	sort.SliceStable(reports, func(i, j int) bool { return reports[i].Weight > reports[j].Weight })
	return reports
}

// Robots returns the ids of all robots seen so far, sorted.
func (st *EstimateTracker) Robots() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]string, 0, len(st.solvers))
	for id := range st.solvers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HasEstimates returns true if at least one robot has a solved estimate.
func (st *EstimateTracker) HasEstimates() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, rs := range st.solvers {
		if rs.solved {
			return true
		}
	}
	return false
}

// saveSnapshot writes every robot's tree to the snapshot file. Caller holds
// the lock.
func (st *EstimateTracker) saveSnapshot() error {
	trees := make(map[string]*HybridBayesTree, len(st.solvers))
	for id, rs := range st.solvers {
		if !rs.isam.Tree().Empty() {
			trees[id] = rs.isam.Tree()
		}
	}
	data, err := json.Marshal(trees)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	if err := os.WriteFile(st.snapshotPath, data, 0644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// loadSnapshot restores solver trees from the snapshot file, if present.
func (st *EstimateTracker) loadSnapshot() error {
	data, err := os.ReadFile(st.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading snapshot: %w", err)
	}
	trees := make(map[string]*HybridBayesTree)
	if err := json.Unmarshal(data, &trees); err != nil {
		return fmt.Errorf("parsing snapshot: %w", err)
	}
	for id, tree := range trees {
		rs := st.solver(id)
		rs.isam.tree = tree
		if hv, err := rs.isam.Optimize(); err == nil {
			rs.latest = hv
			rs.solved = true
			rs.asOf = time.Now()
		}
	}
	log.Printf("[STATE] restored %d robot trees from snapshot", len(trees))
	return nil
}
