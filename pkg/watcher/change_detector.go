package watcher

// ChangeAnalysis describes what changed and what the server has to reload
type ChangeAnalysis struct {
	NeedCatalogReload  bool
	NeedDocumentReload bool
	ChangedFiles       []string
}

// AnalyzeChanges determines what needs to be reloaded based on what changed
func AnalyzeChanges(event ChangeEvent) *ChangeAnalysis {
	analysis := &ChangeAnalysis{
		ChangedFiles: event.Paths,
	}

	switch event.Type {
	case ChangeTypeCatalog:
		// New definitions may change the shape of loaded blocks, so the
		// document is rebuilt on top of them
		analysis.NeedCatalogReload = true
		analysis.NeedDocumentReload = true

	case ChangeTypeDocument:
		analysis.NeedDocumentReload = true
	}

	return analysis
}
