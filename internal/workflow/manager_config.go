package workflow

// ConfigureStages registers the stage handlers the workflow will run. A nil
// handler disables its lane, which lets the CLI run analysis or reporting on
// its own.
func (m *Manager) ConfigureStages(set StageSet) {
	lanes := make([]*laneState, 0, 2)
	if set.Analysis != nil {
		lanes = append(lanes, &laneState{
			kind:    laneAnalysis,
			handler: set.Analysis,
			workers: max(m.cfg.Dispatch.Workers, 1),
		})
	}
	if set.Report != nil {
		lanes = append(lanes, &laneState{
			kind:    laneReport,
			handler: set.Report,
			workers: max(m.cfg.Report.Workers, 1),
		})
	}

	m.mu.Lock()
	m.lanes = lanes
	m.mu.Unlock()
}
