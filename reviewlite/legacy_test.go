package reviewlite

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Darsh1153/trialbyte-v3-sub002/localstore"
)

func TestImportLegacy(t *testing.T) {
	ctx := context.Background()
	store, err := localstore.New(localstore.NewMemoryBackend(), localstore.Options{Namespace: "trialbyte"})
	require.NoError(t, err)

	entries := map[string]string{
		"drugUpdate_D1":       `{"updateData":{"status":"withdrawn"},"originalData":{"id":"D1","status":"active"},"timestamp":1717230600000,"userId":"u-7"}`,
		"therapeuticTrial_T1": `{"updates":{"phase":"III"},"status":"backend_unavailable","timestamp":"2024-06-01T08:30:00Z"}`,
		"pendingTherapeuticUpdates": `[
			{"trialId":"T2","data":{"phase":"IV"}},
			{"id":"T3","payload":{"sponsor":"Acme"}}
		]`,
		"pendingDrugUpdates":  `{"D2":{"updateData":{"drug_name":"Renamed"}}}`,
		"drugUpdateMappings":  `{"D1":"D9","D3":{"newId":"D10"}}`,
		"favoriteTrials":      `["T1","T2"]`,
		"trialColumnSettings": `compact`,
		"theme":               `dark`,
		"therapeuticTrial_T4": `{"originalData":{"id":"T4"}}`,
	}

	report, err := ImportLegacy(ctx, store, entries)
	require.NoError(t, err)
	require.Equal(t, map[string]int{
		EntityDrugUpdate:  2,
		EntityTrialUpdate: 3,
		EntityDrugMapping: 2,
		EntityPref:        2,
	}, report.Counts)
	require.Equal(t, []string{"theme"}, report.Skipped)
	require.Contains(t, report.Invalid, "therapeuticTrial_T4")

	var d1 FallbackRecord
	ok, err := store.Get(ctx, EntityDrugUpdate, "D1", &d1)
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"status":"withdrawn"}`, string(d1.Payload))
	require.JSONEq(t, `{"id":"D1","status":"active"}`, string(d1.Snapshot))
	require.Equal(t, "u-7", d1.UserID)
	require.Equal(t, DrugUpdateNewVersion, d1.Mode)
	require.True(t, time.UnixMilli(1717230600000).Equal(d1.SavedAt))

	var t1 FallbackRecord
	ok, err = store.Get(ctx, EntityTrialUpdate, "T1", &t1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusBackendUnavailable, t1.Status)
	require.True(t, time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC).Equal(t1.SavedAt))

	var t2 FallbackRecord
	ok, err = store.Get(ctx, EntityTrialUpdate, "T2", &t2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusPendingAPIUpdate, t2.Status)

	var mapping DrugVersionMapping
	ok, err = store.Get(ctx, EntityDrugMapping, "D3", &mapping)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "D10", mapping.NewID)

	var favorites []string
	ok, err = store.Get(ctx, EntityPref, "favoriteTrials", &favorites)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"T1", "T2"}, favorites)

	var columns string
	ok, err = store.Get(ctx, EntityPref, "trialColumnSettings", &columns)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "compact", columns)
}

func TestImportLegacy_MappingArray(t *testing.T) {
	store, err := localstore.New(localstore.NewMemoryBackend(), localstore.Options{Namespace: "trialbyte"})
	require.NoError(t, err)

	report, err := ImportLegacy(context.Background(), store, map[string]string{
		"drugUpdateMappings": `[{"originalId":"D1","newId":"D2"},{"originalId":"D3"}]`,
	})
	require.NoError(t, err)
	require.Contains(t, report.Invalid, "drugUpdateMappings")
	require.Zero(t, report.Counts[EntityDrugMapping])
}

func TestParseLegacyRecord_RejectsNonObjectPayload(t *testing.T) {
	_, err := parseLegacyRecord(json.RawMessage(`{"id":"T1","updateData":"phase=III"}`), EntityTrialUpdate, "", fixedNow)
	require.ErrorIs(t, err, errNoPayload)
}
