package storage_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoshizora-ml/shirushi/internal/model"
	"github.com/hoshizora-ml/shirushi/internal/registry"
	"github.com/hoshizora-ml/shirushi/internal/storage"
	"github.com/hoshizora-ml/shirushi/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		os.Exit(1)
	}
	defer testDB.Close()

	os.Exit(m.Run())
}

func TestRegisteredModelCRUD(t *testing.T) {
	ctx := context.Background()

	rm, err := testDB.CreateRegisteredModel(ctx, "crud-model", "first", map[string]string{"env": "dev"})
	require.NoError(t, err)
	assert.Equal(t, "crud-model", rm.Name)
	assert.Equal(t, map[string]string{"env": "dev"}, rm.Tags)

	_, err = testDB.CreateRegisteredModel(ctx, "crud-model", "", nil)
	assert.True(t, registry.IsAlreadyExists(err))

	got, err := testDB.GetRegisteredModel(ctx, "crud-model")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Description)
	assert.Equal(t, "dev", got.Tags["env"])
	assert.False(t, got.CreatedAt.IsZero())

	updated, err := testDB.UpdateRegisteredModel(ctx, "crud-model", "second")
	require.NoError(t, err)
	assert.Equal(t, "second", updated.Description)

	require.NoError(t, testDB.DeleteRegisteredModel(ctx, "crud-model"))
	_, err = testDB.GetRegisteredModel(ctx, "crud-model")
	assert.True(t, registry.IsNotFound(err))
	assert.True(t, registry.IsNotFound(testDB.DeleteRegisteredModel(ctx, "crud-model")))
}

func TestCreateRegisteredModelRejectsBadNames(t *testing.T) {
	ctx := context.Background()
	for _, name := range []string{"", "a/b", "a'b"} {
		_, err := testDB.CreateRegisteredModel(ctx, name, "", nil)
		assert.True(t, registry.IsInvalidArgument(err), "name %q", name)
	}
}

func TestVersionCounterMonotonic(t *testing.T) {
	ctx := context.Background()

	_, err := testDB.CreateRegisteredModel(ctx, "counter-model", "", nil)
	require.NoError(t, err)

	v1, err := testDB.CreateModelVersion(ctx, "counter-model", "s3://a", nil, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, model.StatusReady, v1.Status)

	require.NoError(t, testDB.DeleteModelVersion(ctx, "counter-model", 1))

	v2, err := testDB.CreateModelVersion(ctx, "counter-model", "s3://b", nil, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version, "version numbers are not reused after deletion")

	_, err = testDB.CreateModelVersion(ctx, "no-such-model", "s3://c", nil, "", nil)
	assert.True(t, registry.IsNotFound(err))
}

func TestConcurrentVersionCreates(t *testing.T) {
	ctx := context.Background()

	_, err := testDB.CreateRegisteredModel(ctx, "race-model", "", nil)
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	versions := make([]int, n)
	errs := make([]error, n)
	for i := range versions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mv, err := testDB.CreateModelVersion(ctx, "race-model", "s3://r", nil, "", nil)
			versions[i], errs[i] = mv.Version, err
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for i := range versions {
		require.NoError(t, errs[i])
		assert.False(t, seen[versions[i]], "duplicate version %d", versions[i])
		seen[versions[i]] = true
	}
}

func TestModelVersionFields(t *testing.T) {
	ctx := context.Background()

	_, err := testDB.CreateRegisteredModel(ctx, "fields-model", "", nil)
	require.NoError(t, err)

	runID := "run-99"
	mv, err := testDB.CreateModelVersion(ctx, "fields-model", "s3://bucket/m", &runID, "desc",
		map[string]string{"stage": "canary"})
	require.NoError(t, err)

	got, err := testDB.GetModelVersion(ctx, "fields-model", mv.Version)
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/m", got.Source)
	require.NotNil(t, got.RunID)
	assert.Equal(t, "run-99", *got.RunID)
	assert.Equal(t, "desc", got.Description)
	assert.Equal(t, map[string]string{"stage": "canary"}, got.Tags)

	uri, err := testDB.GetModelVersionDownloadURI(ctx, "fields-model", mv.Version)
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/m", uri)

	updated, err := testDB.UpdateModelVersion(ctx, "fields-model", mv.Version, "new desc")
	require.NoError(t, err)
	assert.Equal(t, "new desc", updated.Description)

	_, err = testDB.GetModelVersion(ctx, "fields-model", 999)
	assert.True(t, registry.IsNotFound(err))
}

func TestRenameCascades(t *testing.T) {
	ctx := context.Background()

	_, err := testDB.CreateRegisteredModel(ctx, "rename-old", "", map[string]string{"k": "v"})
	require.NoError(t, err)
	_, err = testDB.CreateModelVersion(ctx, "rename-old", "s3://a", nil, "", map[string]string{"vk": "vv"})
	require.NoError(t, err)
	require.NoError(t, testDB.SetRegisteredModelAlias(ctx, "rename-old", "prod", 1))

	rm, err := testDB.RenameRegisteredModel(ctx, "rename-old", "rename-new")
	require.NoError(t, err)
	assert.Equal(t, "rename-new", rm.Name)
	assert.Equal(t, "v", rm.Tags["k"])

	mv, err := testDB.GetModelVersion(ctx, "rename-new", 1)
	require.NoError(t, err)
	assert.Equal(t, "rename-new", mv.Name)
	assert.Equal(t, "vv", mv.Tags["vk"])

	byAlias, err := testDB.GetModelVersionByAlias(ctx, "rename-new", "prod")
	require.NoError(t, err)
	assert.Equal(t, 1, byAlias.Version)
}

func TestAliasLifecycle(t *testing.T) {
	ctx := context.Background()

	_, err := testDB.CreateRegisteredModel(ctx, "alias-model", "", nil)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = testDB.CreateModelVersion(ctx, "alias-model", "s3://a", nil, "", nil)
		require.NoError(t, err)
	}

	require.NoError(t, testDB.SetRegisteredModelAlias(ctx, "alias-model", "prod", 1))
	require.NoError(t, testDB.SetRegisteredModelAlias(ctx, "alias-model", "prod", 2))

	mv, err := testDB.GetModelVersionByAlias(ctx, "alias-model", "prod")
	require.NoError(t, err)
	assert.Equal(t, 2, mv.Version)

	err = testDB.SetRegisteredModelAlias(ctx, "alias-model", "prod", 99)
	assert.True(t, registry.IsNotFound(err))

	// Deleting the aliased version drops the alias with it.
	require.NoError(t, testDB.DeleteModelVersion(ctx, "alias-model", 2))
	_, err = testDB.GetModelVersionByAlias(ctx, "alias-model", "prod")
	assert.True(t, registry.IsNotFound(err))

	_, err = testDB.GetModelVersionByAlias(ctx, "no-such-model", "prod")
	assert.True(t, registry.IsNotFound(err))
}

func TestTagUpserts(t *testing.T) {
	ctx := context.Background()

	_, err := testDB.CreateRegisteredModel(ctx, "tags-model", "", nil)
	require.NoError(t, err)
	_, err = testDB.CreateModelVersion(ctx, "tags-model", "s3://a", nil, "", nil)
	require.NoError(t, err)

	require.NoError(t, testDB.SetRegisteredModelTag(ctx, "tags-model", "env", "dev"))
	require.NoError(t, testDB.SetRegisteredModelTag(ctx, "tags-model", "env", "prod"))
	rm, err := testDB.GetRegisteredModel(ctx, "tags-model")
	require.NoError(t, err)
	assert.Equal(t, "prod", rm.Tags["env"])

	require.NoError(t, testDB.SetModelVersionTag(ctx, "tags-model", 1, "stage", "a"))
	require.NoError(t, testDB.SetModelVersionTag(ctx, "tags-model", 1, "stage", "b"))
	mv, err := testDB.GetModelVersion(ctx, "tags-model", 1)
	require.NoError(t, err)
	assert.Equal(t, "b", mv.Tags["stage"])

	require.NoError(t, testDB.DeleteRegisteredModelTag(ctx, "tags-model", "env"))
	require.NoError(t, testDB.DeleteRegisteredModelTag(ctx, "tags-model", "env"))
	require.NoError(t, testDB.DeleteModelVersionTag(ctx, "tags-model", 1, "stage"))

	assert.True(t, registry.IsNotFound(testDB.SetRegisteredModelTag(ctx, "no-such", "k", "v")))
	assert.True(t, registry.IsInvalidArgument(testDB.SetRegisteredModelTag(ctx, "tags-model", "", "v")))
}

func TestSearchRegisteredModelsSQL(t *testing.T) {
	ctx := context.Background()

	for i, env := range []string{"dev", "prod", "prod"} {
		_, err := testDB.CreateRegisteredModel(ctx, fmt.Sprintf("search-model-%d", i), "",
			map[string]string{"env": env, "suite": "search"})
		require.NoError(t, err)
	}

	models, _, err := testDB.SearchRegisteredModels(ctx,
		"tags.suite = 'search' AND tags.env = 'prod'", 10, nil, "")
	require.NoError(t, err)
	assert.Len(t, models, 2)
	for _, rm := range models {
		assert.Equal(t, "prod", rm.Tags["env"])
	}

	models, _, err = testDB.SearchRegisteredModels(ctx,
		"name LIKE 'search-model-%' AND tags.env != 'prod'", 10, nil, "")
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "search-model-0", models[0].Name)

	models, token, err := testDB.SearchRegisteredModels(ctx,
		"tags.suite = 'search'", 2, []string{"name ASC"}, "")
	require.NoError(t, err)
	require.Len(t, models, 2)
	require.NotEmpty(t, token)

	models, token, err = testDB.SearchRegisteredModels(ctx,
		"tags.suite = 'search'", 2, []string{"name ASC"}, token)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Empty(t, token)
	assert.Equal(t, "search-model-2", models[0].Name)

	_, _, err = testDB.SearchRegisteredModels(ctx, "tags.env > 'prod'", 10, nil, "")
	assert.True(t, registry.IsInvalidArgument(err))
	_, _, err = testDB.SearchRegisteredModels(ctx, "", 10, []string{"evil; DROP TABLE"}, "")
	assert.True(t, registry.IsInvalidArgument(err))
	_, _, err = testDB.SearchRegisteredModels(ctx, "", 10, nil, "%%%")
	assert.True(t, registry.IsInvalidArgument(err))
}

func TestSearchModelVersionsSQL(t *testing.T) {
	ctx := context.Background()

	_, err := testDB.CreateRegisteredModel(ctx, "vsearch-model", "", nil)
	require.NoError(t, err)
	_, err = testDB.CreateModelVersion(ctx, "vsearch-model", "s3://a", nil, "", map[string]string{"stage": "test"})
	require.NoError(t, err)
	_, err = testDB.CreateModelVersion(ctx, "vsearch-model", "s3://b", nil, "", nil)
	require.NoError(t, err)

	versions, _, err := testDB.SearchModelVersions(ctx, "name = 'vsearch-model'", 10, nil, "")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Version)

	versions, _, err = testDB.SearchModelVersions(ctx,
		"name = 'vsearch-model' AND tags.stage = 'test'", 10, nil, "")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "test", versions[0].Tags["stage"])
}

func TestGetLatestVersionsSQL(t *testing.T) {
	ctx := context.Background()

	_, err := testDB.CreateRegisteredModel(ctx, "latest-model", "", nil)
	require.NoError(t, err)

	latest, err := testDB.GetLatestVersions(ctx, "latest-model")
	require.NoError(t, err)
	assert.Empty(t, latest)

	for i := 0; i < 3; i++ {
		_, err = testDB.CreateModelVersion(ctx, "latest-model", "s3://a", nil, "", nil)
		require.NoError(t, err)
	}
	require.NoError(t, testDB.DeleteModelVersion(ctx, "latest-model", 3))

	latest, err = testDB.GetLatestVersions(ctx, "latest-model")
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, 2, latest[0].Version)

	_, err = testDB.GetLatestVersions(ctx, "no-such-model")
	assert.True(t, registry.IsNotFound(err))
}

func TestSetModelVersionStatus(t *testing.T) {
	ctx := context.Background()

	_, err := testDB.CreateRegisteredModel(ctx, "status-model", "", nil)
	require.NoError(t, err)
	_, err = testDB.CreateModelVersion(ctx, "status-model", "s3://a", nil, "", nil)
	require.NoError(t, err)

	require.NoError(t, testDB.SetModelVersionStatus(ctx, "status-model", 1, model.StatusFailedRegistration, "boom"))
	mv, err := testDB.GetModelVersion(ctx, "status-model", 1)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailedRegistration, mv.Status)
	assert.Equal(t, "boom", mv.StatusMessage)
}

func TestTrackingEntities(t *testing.T) {
	ctx := context.Background()

	info, err := testDB.GetTraceInfo(ctx, "missing-trace")
	require.NoError(t, err)
	assert.Nil(t, info)

	require.NoError(t, testDB.CreateTrace(ctx, "trace-1", map[string]string{"k": "v"}))
	assert.True(t, registry.IsAlreadyExists(testDB.CreateTrace(ctx, "trace-1", nil)))
	require.NoError(t, testDB.SetTraceTag(ctx, "trace-1", "k2", "v2"))

	info, err = testDB.GetTraceInfo(ctx, "trace-1")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "v", info.Tags["k"])
	assert.Equal(t, "v2", info.Tags["k2"])

	require.NoError(t, testDB.CreateRun(ctx, "run-1", "train", nil))
	require.NoError(t, testDB.SetRunTag(ctx, "run-1", "k", "v"))
	run, err := testDB.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "train", run.Name)
	assert.Equal(t, "v", run.Tags["k"])

	require.NoError(t, testDB.CreateLoggedModel(ctx, "lm-1", "clf", map[string]string{"a": "1"}))
	require.NoError(t, testDB.SetLoggedModelTags(ctx, "lm-1", map[string]string{"a": "2", "b": "3"}))
	lm, err := testDB.GetLoggedModel(ctx, "lm-1")
	require.NoError(t, err)
	require.NotNil(t, lm)
	assert.Equal(t, "2", lm.Tags["a"])
	assert.Equal(t, "3", lm.Tags["b"])
}
