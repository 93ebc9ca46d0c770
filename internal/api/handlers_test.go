package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/foxzi/adcraft/internal/campaign"
	"github.com/foxzi/adcraft/internal/config"
	"github.com/foxzi/adcraft/internal/db"
	"github.com/foxzi/adcraft/internal/models"
	"github.com/foxzi/adcraft/internal/ratelimit"
	"github.com/foxzi/adcraft/internal/render"
	"github.com/foxzi/adcraft/internal/repository"
	"github.com/foxzi/adcraft/internal/tracking"
)

type stubCapturer struct{}

func (stubCapturer) Capture(ctx context.Context, req render.CaptureRequest) ([]byte, error) {
	return []byte("img:" + req.Format), nil
}

type recordingTracker struct {
	mu     sync.Mutex
	events []string
	props  []tracking.Properties
}

func (t *recordingTracker) Track(event string, props tracking.Properties) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
	t.props = append(t.props, props)
}

func (t *recordingTracker) Close(context.Context) error { return nil }

type countingWaker struct {
	mu    sync.Mutex
	count int
}

func (w *countingWaker) Wake() {
	w.mu.Lock()
	w.count++
	w.mu.Unlock()
}

type testEnv struct {
	server   *Server
	deps     Deps
	tracker  *recordingTracker
	waker    *countingWaker
	renderer *render.Service
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestServer(t *testing.T, apiKey string) *testEnv {
	t.Helper()

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	reg, err := render.NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	renderer := render.NewService(reg, stubCapturer{}, t.TempDir(), 0, testLogger())

	failures, err := tracking.OpenFailureStore(filepath.Join(t.TempDir(), "failures.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { failures.Close() })

	env := &testEnv{
		tracker:  &recordingTracker{},
		waker:    &countingWaker{},
		renderer: renderer,
	}
	env.deps = Deps{
		Campaigns:  repository.NewCampaignRepository(database.DB),
		Jobs:       repository.NewJobRepository(database.DB),
		Render:     renderer,
		Tracker:    env.tracker,
		Failures:   failures,
		Worker:     env.waker,
		OutputRoot: t.TempDir(),
	}
	cfg := &config.APIConfig{ListenAddr: ":8080", APIKey: apiKey, MaxBodyBytes: 1 << 20}
	env.server = NewServer(env.deps, cfg, "test", testLogger())
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

const validCampaignJSON = `{
	"name": "Spring Sale",
	"base_template": {"composition_id": "classic", "headline": "Base", "cta": "Shop"},
	"copy_variants": [
		{"name": "Bold", "headline": "Big savings"},
		{"name": "Calm", "headline": "Quiet deals"}
	],
	"sizes": [
		{"size_id": "instagram-square", "enabled": true},
		{"size_id": "facebook-feed", "enabled": true},
		{"size_id": "x-post", "enabled": false}
	],
	"output": {"format": "jpeg"}
}`

func (e *testEnv) createCampaign(t *testing.T) models.Campaign {
	t.Helper()
	w := e.do(t, "POST", "/api/v1/campaigns", validCampaignJSON)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body: %s", w.Code, w.Body.String())
	}
	return decode[models.Campaign](t, w)
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t, "secret")

	w := env.do(t, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decode[HealthResponse](t, w)
	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("unexpected health response %+v", resp)
	}
	if resp.Jobs == nil {
		t.Error("expected job stats")
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := setupTestServer(t, "secret-key")

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"no auth", "", "", http.StatusUnauthorized},
		{"wrong key", "Authorization", "Bearer wrong-key", http.StatusUnauthorized},
		{"correct key", "Authorization", "Bearer secret-key", http.StatusOK},
		{"x-api-key header", "X-API-Key", "secret-key", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/sizes", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("Status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestCatalogEndpoints(t *testing.T) {
	env := setupTestServer(t, "")

	sizes := decode[[]models.SizePreset](t, env.do(t, "GET", "/api/v1/sizes?platform=display", nil))
	if len(sizes) != 4 {
		t.Errorf("expected 4 display sizes, got %d", len(sizes))
	}
	for _, s := range sizes {
		if s.Platform != "display" {
			t.Errorf("unexpected platform %s", s.Platform)
		}
	}

	templates := decode[[]models.NamingTemplate](t, env.do(t, "GET", "/api/v1/naming-templates", nil))
	if len(templates) != len(models.NamingTemplates) || templates[0].Key != models.NamingVariantSize {
		t.Errorf("unexpected naming templates %+v", templates)
	}

	comps := decode[[]render.Composition](t, env.do(t, "GET", "/api/v1/compositions", nil))
	if len(comps) != 3 {
		t.Errorf("expected 3 compositions, got %d", len(comps))
	}
}

func TestCampaignCRUD(t *testing.T) {
	env := setupTestServer(t, "")
	c := env.createCampaign(t)

	if c.ID == "" {
		t.Fatal("campaign ID should be set")
	}
	if c.CopyVariants[0].ID != "variant-1" || c.CopyVariants[1].ID != "variant-2" {
		t.Errorf("variant IDs not generated: %+v", c.CopyVariants)
	}
	if c.Output.Format != models.FormatJPEG || !c.Output.IncludeManifest || c.Output.Quality != 90 {
		t.Errorf("output defaults not merged: %+v", c.Output)
	}

	got := decode[models.Campaign](t, env.do(t, "GET", "/api/v1/campaigns/"+c.ID, nil))
	if got.Name != "Spring Sale" || len(got.Sizes) != 3 || got.BaseTemplate.Headline != "Base" {
		t.Errorf("unexpected campaign %+v", got)
	}

	update := `{"name": "Summer Sale", "copy_variants": [{"id": "only", "name": "Only", "headline": "Hi"}],
		"sizes": [{"size_id": "x-post", "enabled": true}]}`
	w := env.do(t, "PUT", "/api/v1/campaigns/"+c.ID, update)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body: %s", w.Code, w.Body.String())
	}
	got = decode[models.Campaign](t, env.do(t, "GET", "/api/v1/campaigns/"+c.ID, nil))
	if got.Name != "Summer Sale" || len(got.CopyVariants) != 1 || got.BaseTemplate == nil {
		t.Errorf("update not applied: %+v", got)
	}
	if got.Output.Format != models.FormatJPEG {
		t.Errorf("output settings lost on update: %+v", got.Output)
	}

	list := decode[struct {
		Items []models.CampaignWithStats `json:"items"`
		Total int                        `json:"total"`
	}](t, env.do(t, "GET", "/api/v1/campaigns?search=Summer", nil))
	if list.Total != 1 || list.Items[0].VariantCount != 1 || list.Items[0].SizeCount != 1 {
		t.Errorf("unexpected list %+v", list)
	}

	if w := env.do(t, "DELETE", "/api/v1/campaigns/"+c.ID, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}
	if w := env.do(t, "GET", "/api/v1/campaigns/"+c.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", w.Code)
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	env := setupTestServer(t, "")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{invalid}`, http.StatusBadRequest},
		{"missing name", `{"description": "x"}`, http.StatusBadRequest},
		{"blank name", `{"name": "   "}`, http.StatusBadRequest},
		{"minimal", `{"name": "Draft"}`, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, "POST", "/api/v1/campaigns", tt.body); w.Code != tt.want {
				t.Errorf("Status = %d, want %d. Body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}

	if w := env.do(t, "PUT", "/api/v1/campaigns/missing", `{"name":"x"}`); w.Code != http.StatusNotFound {
		t.Errorf("update missing status = %d", w.Code)
	}
}

func TestValidateCampaign(t *testing.T) {
	env := setupTestServer(t, "")
	c := env.createCampaign(t)

	resp := decode[ValidateResponse](t, env.do(t, "POST", "/api/v1/campaigns/"+c.ID+"/validate", nil))
	if !resp.Valid || resp.TotalAssets != 4 {
		t.Errorf("unexpected validation %+v", resp)
	}

	w := env.do(t, "POST", "/api/v1/campaigns", `{"name": "Empty"}`)
	empty := decode[models.Campaign](t, w)
	resp = decode[ValidateResponse](t, env.do(t, "POST", "/api/v1/campaigns/"+empty.ID+"/validate", nil))
	if resp.Valid || len(resp.Errors) < 2 {
		t.Errorf("expected accumulated errors, got %+v", resp)
	}
	if len(resp.Warnings) != 0 {
		t.Errorf("unexpected warnings %v", resp.Warnings)
	}

	twins := strings.Replace(validCampaignJSON, `"name": "Calm"`, `"name": "Bold"`, 1)
	w = env.do(t, "POST", "/api/v1/campaigns", twins)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	dup := decode[models.Campaign](t, w)
	resp = decode[ValidateResponse](t, env.do(t, "POST", "/api/v1/campaigns/"+dup.ID+"/validate", nil))
	if !resp.Valid {
		t.Errorf("colliding names should stay valid, got %+v", resp)
	}
	if len(resp.Warnings) != 2 {
		t.Errorf("expected a warning per shared path, got %v", resp.Warnings)
	}
}

func TestImportVariants(t *testing.T) {
	env := setupTestServer(t, "")
	c := env.createCampaign(t)

	csv := "title,label\nFirst line,One\nSecond line,Two\n"
	w := env.do(t, "POST", "/api/v1/campaigns/"+c.ID+"/variants/import?name_column=label", csv)
	if w.Code != http.StatusOK {
		t.Fatalf("import status = %d, body: %s", w.Code, w.Body.String())
	}
	res := decode[campaign.ImportResult](t, w)
	if len(res.Variants) != 2 || res.Variants[1].Name != "Two" {
		t.Errorf("unexpected import %+v", res)
	}

	// append keeps existing variants and de-duplicates generated IDs
	w = env.do(t, "POST", "/api/v1/campaigns/"+c.ID+"/variants/import?mode=append", "headline\nThird\n")
	if w.Code != http.StatusOK {
		t.Fatalf("append status = %d, body: %s", w.Code, w.Body.String())
	}
	got := decode[models.Campaign](t, env.do(t, "GET", "/api/v1/campaigns/"+c.ID, nil))
	if len(got.CopyVariants) != 3 {
		t.Fatalf("expected 3 variants, got %d", len(got.CopyVariants))
	}
	if got.CopyVariants[2].ID != "variant-1-2" || got.CopyVariants[2].Headline != "Third" {
		t.Errorf("unexpected appended variant %+v", got.CopyVariants[2])
	}

	if w := env.do(t, "POST", "/api/v1/campaigns/"+c.ID+"/variants/import", "color\nred\n"); w.Code != http.StatusBadRequest {
		t.Errorf("bad csv status = %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/v1/campaigns/"+c.ID+"/variants/import", "headline\n\n"); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty csv status = %d", w.Code)
	}
}

func TestImportVariantsMultipart(t *testing.T) {
	env := setupTestServer(t, "")
	c := env.createCampaign(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "variants.csv")
	fw.Write([]byte("headline,cta\nUpload one,Go\n"))
	mw.Close()

	req := httptest.NewRequest("POST", "/api/v1/campaigns/"+c.ID+"/variants/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, body: %s", w.Code, w.Body.String())
	}
	res := decode[campaign.ImportResult](t, w)
	if len(res.Variants) != 1 || res.Variants[0].CTA != "Go" {
		t.Errorf("unexpected import %+v", res)
	}
}

func TestGenerateQueuesJob(t *testing.T) {
	env := setupTestServer(t, "")
	c := env.createCampaign(t)

	w := env.do(t, "POST", "/api/v1/campaigns/"+c.ID+"/generate", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Status = %d, body: %s", w.Code, w.Body.String())
	}
	job := decode[models.GenerationJob](t, w)
	if job.Status != models.JobQueued || job.TotalCount != 4 {
		t.Errorf("unexpected job %+v", job)
	}
	if job.OutputDir != filepath.Join(env.deps.OutputRoot, c.ID, job.ID) {
		t.Errorf("unexpected output dir %s", job.OutputDir)
	}
	if env.waker.count != 1 {
		t.Errorf("worker woken %d times, want 1", env.waker.count)
	}
	if len(env.tracker.events) != 1 || env.tracker.events[0] != "campaign_generation_queued" {
		t.Errorf("unexpected tracked events %v", env.tracker.events)
	}

	if w := env.do(t, "POST", "/api/v1/campaigns/"+c.ID+"/generate", nil); w.Code != http.StatusConflict {
		t.Errorf("second generate status = %d, want 409", w.Code)
	}
	if w := env.do(t, "DELETE", "/api/v1/campaigns/"+c.ID, nil); w.Code != http.StatusConflict {
		t.Errorf("delete with active job status = %d, want 409", w.Code)
	}

	jobs := decode[struct {
		Items []models.GenerationJob `json:"items"`
		Total int                    `json:"total"`
	}](t, env.do(t, "GET", "/api/v1/campaigns/"+c.ID+"/jobs", nil))
	if jobs.Total != 1 || jobs.Items[0].ID != job.ID || jobs.Items[0].CampaignName != "Spring Sale" {
		t.Errorf("unexpected job list %+v", jobs)
	}
}

func TestGenerateRejectsInvalidCampaign(t *testing.T) {
	env := setupTestServer(t, "")
	empty := decode[models.Campaign](t, env.do(t, "POST", "/api/v1/campaigns", `{"name": "Empty"}`))

	w := env.do(t, "POST", "/api/v1/campaigns/"+empty.ID+"/generate", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Status = %d, want 422", w.Code)
	}
	resp := decode[ErrorResponse](t, w)
	if len(resp.Details) == 0 {
		t.Error("expected validation details")
	}
	if w := env.do(t, "POST", "/api/v1/campaigns/missing/generate", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing campaign status = %d", w.Code)
	}
}

// runJob queues a job and runs it synchronously the way the worker does
func (e *testEnv) runJob(t *testing.T, c models.Campaign) *models.GenerationJob {
	t.Helper()
	job := decode[models.GenerationJob](t, e.do(t, "POST", "/api/v1/campaigns/"+c.ID+"/generate", nil))

	stored, err := e.deps.Jobs.GetByID(job.ID)
	if err != nil || stored == nil {
		t.Fatalf("job not stored: %v", err)
	}
	gen := campaign.NewGenerator(e.renderer, nil, e.deps.OutputRoot, testLogger())
	gen.OnStart = func(j *models.GenerationJob) { e.deps.Jobs.SaveAssets(j) }
	gen.OnAssetDone = func(j *models.GenerationJob, a *models.CampaignAsset) { e.deps.Jobs.SaveProgress(j, a) }
	if err := gen.Run(context.Background(), stored); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := e.deps.Jobs.Finish(stored); err != nil {
		t.Fatal(err)
	}
	return stored
}

func TestJobEndpoints(t *testing.T) {
	env := setupTestServer(t, "")
	c := env.createCampaign(t)
	job := env.runJob(t, c)

	got := decode[models.GenerationJob](t, env.do(t, "GET", "/api/v1/jobs/"+job.ID, nil))
	if got.Status != models.JobCompleted || got.Progress != 100 || len(got.Assets) != 4 {
		t.Errorf("unexpected job %+v", got)
	}

	assets := decode[[]models.CampaignAsset](t, env.do(t, "GET", "/api/v1/jobs/"+job.ID+"/assets?status=completed", nil))
	if len(assets) != 4 || assets[0].FilePath != "Bold/Bold_Instagram_Square.jpeg" {
		t.Errorf("unexpected assets %+v", assets)
	}

	w := env.do(t, "GET", "/api/v1/jobs/"+job.ID+"/download", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("download status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("unexpected content type %s", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "Spring_Sale_") {
		t.Errorf("unexpected content disposition %s", cd)
	}

	m := decode[campaign.Manifest](t, env.do(t, "GET", "/api/v1/jobs/"+job.ID+"/manifest", nil))
	if m.Campaign.ID != c.ID || m.Stats.CompletedAssets != 4 {
		t.Errorf("unexpected manifest %+v", m)
	}

	all := decode[struct {
		Total int `json:"total"`
	}](t, env.do(t, "GET", "/api/v1/jobs?status=completed", nil))
	if all.Total != 1 {
		t.Errorf("expected 1 completed job, got %d", all.Total)
	}

	if w := env.do(t, "GET", "/api/v1/jobs/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing job status = %d", w.Code)
	}
}

func TestJobDownloadFallsBackToPublishedArchive(t *testing.T) {
	env := setupTestServer(t, "")
	c := env.createCampaign(t)
	job := env.runJob(t, c)

	os.Remove(job.ZipPath)
	if w := env.do(t, "GET", "/api/v1/jobs/"+job.ID+"/download", nil); w.Code != http.StatusNotFound {
		t.Errorf("status without archive = %d, want 404", w.Code)
	}

	job.ArchiveURL = "https://storage.test/adcraft/archive.zip?sig=1"
	if err := env.deps.Jobs.Finish(job); err != nil {
		t.Fatal(err)
	}
	w := env.do(t, "GET", "/api/v1/jobs/"+job.ID+"/download", nil)
	if w.Code != http.StatusFound || w.Header().Get("Location") != job.ArchiveURL {
		t.Errorf("expected redirect to published archive, got %d %s", w.Code, w.Header().Get("Location"))
	}
}

func TestRenderPreview(t *testing.T) {
	env := setupTestServer(t, "")

	w := env.do(t, "POST", "/api/v1/render", RenderRequest{
		CompositionID: "classic",
		Props:         models.AdTemplate{Headline: "Preview"},
		SizeID:        "display-leaderboard",
		Format:        models.FormatWebP,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, body: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Content-Type") != "image/webp" || w.Body.String() != "img:webp" {
		t.Errorf("unexpected preview %s %q", w.Header().Get("Content-Type"), w.Body.String())
	}
	if w.Header().Get("X-Render-Width") != "728" || w.Header().Get("X-Render-Height") != "90" {
		t.Errorf("size preset not applied: %v", w.Header())
	}

	tests := []struct {
		name string
		req  RenderRequest
		want int
	}{
		{"missing composition", RenderRequest{}, http.StatusBadRequest},
		{"unknown composition", RenderRequest{CompositionID: "nope"}, http.StatusNotFound},
		{"bad format", RenderRequest{CompositionID: "classic", Format: "gif"}, http.StatusBadRequest},
		{"unknown size", RenderRequest{CompositionID: "classic", SizeID: "billboard"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, "POST", "/api/v1/render", tt.req); w.Code != tt.want {
				t.Errorf("Status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestTrackEndpoint(t *testing.T) {
	env := setupTestServer(t, "")

	req := httptest.NewRequest("POST", "/api/v1/track",
		strings.NewReader(`{"event": "Lead", "properties": {"email": "a@b.c"}}`))
	req.Header.Set("X-Real-IP", "203.0.113.7")
	req.Header.Set("User-Agent", "test-agent")
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Status = %d, body: %s", w.Code, w.Body.String())
	}
	resp := decode[TrackResponse](t, w)
	if resp.EventID == "" {
		t.Error("event id should be returned")
	}

	if len(env.tracker.events) != 1 || env.tracker.events[0] != "Lead" {
		t.Fatalf("unexpected events %v", env.tracker.events)
	}
	props := env.tracker.props[0]
	// no trusted proxies, so the forwarded header is ignored
	if props["client_ip"] != "192.0.2.1" || props["user_agent"] != "test-agent" || props["event_id"] != resp.EventID {
		t.Errorf("request context not added: %v", props)
	}

	if w := env.do(t, "POST", "/api/v1/track", `{"properties": {}}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing event status = %d", w.Code)
	}
}

func TestTrackingFailuresEndpoint(t *testing.T) {
	env := setupTestServer(t, "")
	ctx := context.Background()
	env.deps.Failures.Save(ctx, &tracking.Failure{Backend: tracking.BackendMeta, Event: "Purchase", Error: "bad token"})
	env.deps.Failures.Save(ctx, &tracking.Failure{Backend: tracking.BackendPostHog, Event: "asset_rendered", Error: "timeout"})

	resp := decode[struct {
		Items []tracking.Failure `json:"items"`
		Total int                `json:"total"`
	}](t, env.do(t, "GET", "/api/v1/tracking/failures?backend=meta", nil))
	if resp.Total != 2 || len(resp.Items) != 1 || resp.Items[0].Event != "Purchase" {
		t.Errorf("unexpected failures %+v", resp)
	}
}

func TestBodyLimit(t *testing.T) {
	env := setupTestServer(t, "")
	big := `{"name": "` + strings.Repeat("x", 2<<20) + `"}`
	if w := env.do(t, "POST", "/api/v1/campaigns", big); w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Status = %d, want 413", w.Code)
	}
}

func TestRateLimitedEndpoints(t *testing.T) {
	env := setupTestServer(t, "")
	limiter, err := ratelimit.NewLimiter(nil, &ratelimit.Config{
		PerClientIP: &ratelimit.LimitConfig{RequestsPerHour: 2},
		PerCampaign: &ratelimit.LimitConfig{RequestsPerDay: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer limiter.Stop()
	env.deps.Limiter = limiter
	env.server = NewServer(env.deps, &config.APIConfig{MaxBodyBytes: 1 << 20}, "test", testLogger())

	preview := RenderRequest{CompositionID: "classic", SizeID: "x-post"}
	if w := env.do(t, "POST", "/api/v1/render", preview); w.Code != http.StatusOK {
		t.Fatalf("first preview status = %d", w.Code)
	}

	c := env.createCampaign(t)
	if w := env.do(t, "POST", "/api/v1/campaigns/"+c.ID+"/generate", nil); w.Code != http.StatusAccepted {
		t.Fatalf("generate status = %d, body: %s", w.Code, w.Body.String())
	}

	// client ip quota (2/h) is used up by one preview and one generation
	w := env.do(t, "POST", "/api/v1/render", preview)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	stats := decode[ratelimit.Stats](t, env.do(t, "GET", "/api/v1/rate-limits/client_ip?key=192.0.2.1", nil))
	if stats.HourlyCount != 2 || stats.Limit == nil || stats.Limit.RequestsPerHour != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
	campaignStats := decode[ratelimit.Stats](t, env.do(t, "GET", "/api/v1/rate-limits/campaign?key="+c.ID, nil))
	if campaignStats.DailyCount != 1 {
		t.Errorf("unexpected campaign stats %+v", campaignStats)
	}

	if w := env.do(t, "GET", "/api/v1/rate-limits/sender?key=x", nil); w.Code != http.StatusBadRequest {
		t.Errorf("unknown level status = %d, want 400", w.Code)
	}
	if w := env.do(t, "GET", "/api/v1/rate-limits/client_ip", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing key status = %d, want 400", w.Code)
	}
}

func TestRateLimitStatsDisabled(t *testing.T) {
	env := setupTestServer(t, "")
	if w := env.do(t, "GET", "/api/v1/rate-limits/global", nil); w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", w.Code)
	}
}

func TestAPIAllowedIPs(t *testing.T) {
	env := setupTestServer(t, "")
	env.server = NewServer(env.deps, &config.APIConfig{AllowedIPs: []string{"10.0.0.0/8"}}, "test", testLogger())

	// httptest requests come from 192.0.2.1
	if w := env.do(t, "GET", "/api/v1/sizes", nil); w.Code != http.StatusForbidden {
		t.Errorf("Status = %d, want 403", w.Code)
	}
	if w := env.do(t, "GET", "/health", nil); w.Code != http.StatusOK {
		t.Errorf("health should not be filtered, got %d", w.Code)
	}

	req := httptest.NewRequest("GET", "/api/v1/sizes", nil)
	req.Header.Set("X-Real-IP", "10.1.2.3")
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("spoofed X-Real-IP status = %d, want 403", w.Code)
	}

	env.server = NewServer(env.deps, &config.APIConfig{
		AllowedIPs:     []string{"10.0.0.0/8"},
		TrustedProxies: []string{"192.0.2.0/24"},
	}, "test", testLogger())
	req = httptest.NewRequest("GET", "/api/v1/sizes", nil)
	req.Header.Set("X-Real-IP", "10.1.2.3")
	w = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("client behind trusted proxy status = %d", w.Code)
	}
}

func TestTrustedProxyClientIP(t *testing.T) {
	env := setupTestServer(t, "")
	env.server = NewServer(env.deps, &config.APIConfig{TrustedProxies: []string{"192.0.2.1"}}, "test", testLogger())

	req := httptest.NewRequest("POST", "/api/v1/track", strings.NewReader(`{"event": "Lead"}`))
	req.Header.Set("X-Forwarded-For", "198.51.100.9, 203.0.113.7")
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Status = %d, body: %s", w.Code, w.Body.String())
	}

	// the hop appended by the trusted proxy is the client
	if got := env.tracker.props[0]["client_ip"]; got != "203.0.113.7" {
		t.Errorf("client_ip = %v, want 203.0.113.7", got)
	}
}
