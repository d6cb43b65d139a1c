package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	corecfg "github.com/aevon-lab/flexevent/internal/core/config"
	"github.com/aevon-lab/flexevent/internal/core/preset"
)

const baselineSpecs = `[{
	"trigger_data": [1, 2, 3],
	"event_report_windows": {"end_times": [172800000, 604800000, 2592000000]},
	"summary_buckets": [1, 2, 3, 4]
}]`

func TestInspect(t *testing.T) {
	presets := []preset.Preset{
		{Name: "baseline-event", SourceType: preset.SourceTypeEvent, TriggerSpecsJSON: baselineSpecs, MaxEventLevelReports: 3},
		{Name: "baseline-nav", SourceType: preset.SourceTypeNavigation, TriggerSpecsJSON: baselineSpecs, MaxEventLevelReports: 3},
	}

	var out bytes.Buffer
	ok, err := inspect(corecfg.NewFlags(true, 14), presets, &out)
	require.NoError(t, err)
	require.False(t, ok)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var event, nav privacyReport
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &event))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &nav))

	require.Equal(t, uint64(220), event.States)
	require.False(t, event.WithinLimits)
	require.Contains(t, event.Error, "information gain")

	require.True(t, nav.WithinLimits)
	require.Greater(t, nav.InformationGain, 6.5)
	require.Less(t, nav.FlipProbability, 0.01)
}

func TestInspect_MalformedSpecs(t *testing.T) {
	var out bytes.Buffer
	ok, err := inspect(corecfg.NewFlags(true, 14), []preset.Preset{
		{Name: "broken", SourceType: preset.SourceTypeEvent, TriggerSpecsJSON: `{`, MaxEventLevelReports: 1},
	}, &out)
	require.NoError(t, err)
	require.False(t, ok)
	require.Contains(t, out.String(), `"error"`)
}

func TestEvaluate_InMemory(t *testing.T) {
	cfg, err := corecfg.Load("")
	require.NoError(t, err)

	specs, err := json.Marshal(`[{"trigger_data":[1],"event_report_windows":{"end_times":[86400000]}}]`)
	require.NoError(t, err)

	candidates := `[{
		"source": {
			"id": "src-1", "enrollment_id": "e1",
			"source_site": "https://publisher.example", "source_origin": "https://publisher.example",
			"registrant": "android-app://com.publisher", "registration_origin": "https://adtech.example",
			"source_type": "event", "event_time": "2026-02-08T12:00:00Z",
			"trigger_specs": ` + string(specs) + `, "max_event_level_reports": 1
		},
		"trigger": {
			"id": "trg-1", "enrollment_id": "e1",
			"destination_site": "https://shop.example", "destination_origin": "https://shop.example",
			"registrant": "android-app://com.shop", "registration_origin": "https://adtech.example",
			"trigger_time": "2026-02-08T13:00:00Z", "trigger_data": 1, "value": 1
		}
	}]`
	path := filepath.Join(t.TempDir(), "candidates.json")
	require.NoError(t, os.WriteFile(path, []byte(candidates), 0o644))

	var out bytes.Buffer
	require.NoError(t, evaluate(cfg, path, &out))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &line))
	require.Equal(t, "attributed", line["outcome"])
	require.NotEmpty(t, line["attribution_id"])
	require.NotEmpty(t, line["report_id"])
}

func TestSelectPresets(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a", "b"} {
		body := "name: " + name + "\nmax_event_level_reports: 1\ntrigger_specs:\n  - trigger_data: [1]\n    event_report_windows:\n      end_times: [86400000]\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(body), 0o644))
	}
	repo, err := preset.NewFileSystemRepository(dir)
	require.NoError(t, err)

	all, err := selectPresets(context.Background(), repo, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	one, err := selectPresets(context.Background(), repo, "b")
	require.NoError(t, err)
	require.Equal(t, "b", one[0].Name)

	_, err = selectPresets(context.Background(), repo, "missing")
	require.Error(t, err)
}

func TestShippedPresetsWithinLimits(t *testing.T) {
	repo, err := preset.NewFileSystemRepository(filepath.Join("..", "..", "config", "presets"))
	require.NoError(t, err)
	require.Equal(t, 3, repo.Len())

	presets, err := selectPresets(context.Background(), repo, "")
	require.NoError(t, err)

	var out bytes.Buffer
	ok, err := inspect(corecfg.NewFlags(true, 14), presets, &out)
	require.NoError(t, err)
	require.True(t, ok, out.String())
}
