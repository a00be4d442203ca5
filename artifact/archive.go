package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/execlog"
)

// Object names written by Archive.
const (
	NameArtifact = "artifact.json"
	NameDocument = "artifact.md"
	NameLog      = "execution.log"
	NameLogJSON  = "execution.json"
)

// Store persists opaque objects grouped by request id.
type Store interface {
	Save(ctx context.Context, requestID, name string, data []byte) error
	Get(ctx context.Context, requestID, name string) ([]byte, error)
	List(ctx context.Context, requestID string) ([]string, error)
	Delete(ctx context.Context, requestID, name string) error
}

// Archive writes the artifact and, when non-nil, the execution log.
func Archive(ctx context.Context, store Store, art *core.Artifact, log *execlog.Log) error {
	if art == nil || art.RequestID == "" {
		return fmt.Errorf("archive: artifact without request id")
	}
	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: encode artifact: %w", err)
	}
	objects := map[string][]byte{
		NameArtifact: data,
		NameDocument: []byte(Render(art)),
	}
	if log != nil {
		logJSON, err := log.MarshalJSON()
		if err != nil {
			return fmt.Errorf("archive: encode log: %w", err)
		}
		objects[NameLog] = []byte(log.Export())
		objects[NameLogJSON] = logJSON
	}
	for _, name := range []string{NameArtifact, NameDocument, NameLog, NameLogJSON} {
		if b, ok := objects[name]; ok {
			if err := store.Save(ctx, art.RequestID, name, b); err != nil {
				return fmt.Errorf("archive: save %s/%s: %w", art.RequestID, name, err)
			}
		}
	}
	return nil
}

// Load reads back an archived artifact.
func Load(ctx context.Context, store Store, requestID string) (*core.Artifact, error) {
	data, err := store.Get(ctx, requestID, NameArtifact)
	if err != nil {
		return nil, err
	}
	var art core.Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("archive: decode artifact %s: %w", requestID, err)
	}
	return &art, nil
}

// LoadLog reads back an archived execution log.
func LoadLog(ctx context.Context, store Store, requestID string) (*execlog.Log, error) {
	data, err := store.Get(ctx, requestID, NameLogJSON)
	if err != nil {
		return nil, err
	}
	log := execlog.New()
	if err := log.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("archive: decode log %s: %w", requestID, err)
	}
	return log, nil
}

// Render formats an artifact as a readable document: title, sections,
// evaluation summary, flagged claims and warnings.
func Render(art *core.Artifact) string {
	var b strings.Builder
	if art.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", art.Title)
	}
	fmt.Fprintf(&b, "_status: %s, version %d_\n\n", art.Status, art.Version)
	b.WriteString(core.RenderSections(art.Sections))
	b.WriteString("\n")

	if ev := art.Evaluation; ev != nil {
		fmt.Fprintf(&b, "\n## Evaluation\n\noverall: %.2f\n", ev.Overall)
		for _, name := range sortedKeys(ev.Scores) {
			fmt.Fprintf(&b, "- %s: %.2f\n", name, ev.Scores[name])
		}
		for _, name := range ev.Unscored {
			fmt.Fprintf(&b, "- %s: unscored\n", name)
		}
		if ev.HallucinationDetected {
			b.WriteString("\nhallucination detected\n")
		}
	}
	if claims := art.UngroundedClaims(); len(claims) > 0 {
		b.WriteString("\n## Ungrounded claims\n\n")
		for _, c := range claims {
			fmt.Fprintf(&b, "- %s\n", c.Text)
		}
	}
	if len(art.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range art.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	return b.String()
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
