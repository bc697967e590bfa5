package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"mealsnap/internal/event"
	"mealsnap/internal/mealplan"
	"mealsnap/internal/recipe"
	"mealsnap/internal/shopping"
	"mealsnap/internal/user"
)

const (
	testSecret     = "test-secret"
	testExternalID = "ext_user_1"
)

type fakeUsers struct {
	mu      sync.Mutex
	users   map[string]*user.User
	created []*user.User
}

func (f *fakeUsers) GetByExternalID(_ context.Context, externalID string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[externalID], nil
}

func (f *fakeUsers) Create(_ context.Context, u *user.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if _, exists := f.users[u.ExternalID]; !exists {
		f.users[u.ExternalID] = u
		f.created = append(f.created, u)
	}
	return nil
}

func (f *fakeUsers) UpdateProfile(_ context.Context, externalID string, prefs map[string]any, restrictions []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[externalID]
	if !ok {
		return errors.New("no such user")
	}
	u.DietaryPrefs = prefs
	u.Restrictions = restrictions
	return nil
}

type fakeRecipes struct {
	mu      sync.Mutex
	created []*recipe.Recipe
}

func (f *fakeRecipes) Create(_ context.Context, r *recipe.Recipe) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.created = append(f.created, &cp)
	return nil
}

func (f *fakeRecipes) GetByID(_ context.Context, id uuid.UUID) (*recipe.Recipe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.created {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeRecipes) ListByUser(_ context.Context, userID uuid.UUID) ([]*recipe.Recipe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*recipe.Recipe
	for _, r := range f.created {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

type sentEvent struct {
	name          string
	correlationID uuid.UUID
	payload       any
}

type fakeEvents struct {
	mu   sync.Mutex
	err  error
	sent []sentEvent
}

func (f *fakeEvents) Send(_ context.Context, name string, correlationID uuid.UUID, payload any) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.sent = append(f.sent, sentEvent{name: name, correlationID: correlationID, payload: payload})
	return uuid.New(), nil
}

func (f *fakeEvents) all() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentEvent(nil), f.sent...)
}

type fakeNutrition struct {
	n   recipe.Nutrition
	err error
}

func (f *fakeNutrition) AnalyzeIngredients(_ context.Context, _ []string) (recipe.Nutrition, error) {
	return f.n, f.err
}

type fakeMealPlans struct {
	mu    sync.Mutex
	plans map[string]*mealplan.Plan
}

func (f *fakeMealPlans) CreateOrAppend(_ context.Context, userID uuid.UUID, date time.Time, meals []mealplan.Meal) (*mealplan.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := date.Format("2006-01-02")
	p, ok := f.plans[key]
	if !ok {
		p = &mealplan.Plan{ID: uuid.New(), UserID: userID, Date: date}
		f.plans[key] = p
	}
	p.Meals = append(p.Meals, meals...)
	return p, nil
}

func (f *fakeMealPlans) GetByDate(_ context.Context, _ uuid.UUID, date time.Time) (*mealplan.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plans[date.Format("2006-01-02")], nil
}

func (f *fakeMealPlans) ListByUser(_ context.Context, _ uuid.UUID) ([]*mealplan.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*mealplan.Plan
	for _, p := range f.plans {
		out = append(out, p)
	}
	return out, nil
}

// memListStore is an in-memory shopping.ListStore.
type memListStore struct {
	mu    sync.Mutex
	lists []*shopping.List
}

func (m *memListStore) CurrentForDay(_ context.Context, userID uuid.UUID, now time.Time) (*shopping.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.lists {
		if l.UserID == userID {
			cp := *l
			cp.Items = append([]shopping.Item(nil), l.Items...)
			return &cp, nil
		}
	}
	l := &shopping.List{ID: uuid.New(), UserID: userID, Items: []shopping.Item{}, CreatedAt: now}
	m.lists = append(m.lists, l)
	cp := *l
	return &cp, nil
}

func (m *memListStore) ReplaceItems(_ context.Context, id uuid.UUID, items []shopping.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.lists {
		if l.ID == id {
			l.Items = append([]shopping.Item(nil), items...)
		}
	}
	return nil
}

func (m *memListStore) ListByUser(_ context.Context, userID uuid.UUID) ([]*shopping.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*shopping.List
	for _, l := range m.lists {
		if l.UserID == userID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fixture struct {
	router    *gin.Engine
	users     *fakeUsers
	recipes   *fakeRecipes
	events    *fakeEvents
	nutrition *fakeNutrition
	userDBID  uuid.UUID
	uploadDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	userDBID := uuid.New()
	users := &fakeUsers{users: map[string]*user.User{
		testExternalID: {ID: userDBID, ExternalID: testExternalID, Email: "u@example.com", DietaryPrefs: map[string]any{"vegetarian": true}},
	}}
	recipes := &fakeRecipes{}
	events := &fakeEvents{}
	nutrition := &fakeNutrition{}
	uploadDir := t.TempDir()

	h := &Handler{
		Users:       users,
		Recipes:     recipes,
		Shopping:    shopping.NewService(&memListStore{}),
		MealPlans:   &fakeMealPlans{plans: map[string]*mealplan.Plan{}},
		Nutrition:   nutrition,
		Events:      events,
		Logger:      zaptest.NewLogger(t),
		UploadDir:   uploadDir,
		MaxWidth:    64,
		CallTimeout: time.Second,
	}
	router := gin.New()
	h.Routes(router, testSecret)

	return &fixture{router: router, users: users, recipes: recipes, events: events, nutrition: nutrition, userDBID: userDBID, uploadDir: uploadDir}
}

func signToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   testExternalID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (f *fixture) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signToken(t))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/recipes", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/recipes", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func pngUpload(t *testing.T, dishName string) (*bytes.Buffer, string) {
	t.Helper()
	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 8, 8))))

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	fw, err := form.CreateFormFile("image", "dish.png")
	require.NoError(t, err)
	_, err = fw.Write(img.Bytes())
	require.NoError(t, err)
	if dishName != "" {
		require.NoError(t, form.WriteField("dishName", dishName))
	}
	require.NoError(t, form.Close())
	return &body, form.FormDataContentType()
}

func TestUploadStartsPipeline(t *testing.T) {
	f := newFixture(t)
	body, contentType := pngUpload(t, "Pasta")

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+signToken(t))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	sent := f.events.all()
	require.Len(t, sent, 1)
	assert.Equal(t, event.IngredientDetect, sent[0].name)
	assert.NotEqual(t, uuid.Nil, sent[0].correlationID)

	payload, ok := sent[0].payload.(event.DetectPayload)
	require.True(t, ok)
	assert.Equal(t, testExternalID, payload.UserID)
	assert.Equal(t, "Pasta", payload.DishName)
	_, err := os.Stat(payload.ImagePath)
	assert.NoError(t, err, "resized image should be on disk")
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	f := newFixture(t)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	fw, err := form.CreateFormFile("image", "dish.gif")
	require.NoError(t, err)
	_, err = fw.Write([]byte("gif bytes"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+signToken(t))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.events.all())
}

func TestAuthWebhookProvisionsUser(t *testing.T) {
	f := newFixture(t)

	body := []byte(`{"type":"user.created","data":{"id":"ext_user_2","email_addresses":[{"email_address":"new@example.com"}]}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/auth", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.users.created, 1)
	assert.Equal(t, "ext_user_2", f.users.created[0].ExternalID)
	assert.Equal(t, "new@example.com", f.users.created[0].Email)
}

func TestAuthWebhookIgnoresOtherEvents(t *testing.T) {
	f := newFixture(t)

	body := []byte(`{"type":"user.deleted","data":{"id":"ext_user_2"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/auth", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, f.users.created)
}

func TestAnalyzeNutritionFailureSurfacesToCaller(t *testing.T) {
	f := newFixture(t)
	f.nutrition.err = errors.New("model returned garbage")

	w := f.do(t, http.MethodPost, "/api/nutrition/analyze", []byte(`{"ingredients":["carrot"]}`), nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestCreateRecipeDegradesNutritionFailure(t *testing.T) {
	f := newFixture(t)
	f.nutrition.err = errors.New("model returned garbage")

	w := f.do(t, http.MethodPost, "/api/recipes", []byte(`{"title":"Soup","ingredients":["carrot"],"instructions":"Boil."}`), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// The save goes through with zero-valued nutrition instead of failing.
	require.Len(t, f.recipes.created, 1)
	assert.Equal(t, recipe.Nutrition{}, f.recipes.created[0].Nutrition)
	assert.Equal(t, f.userDBID, f.recipes.created[0].UserID)

	sent := f.events.all()
	require.Len(t, sent, 1)
	assert.Equal(t, event.RecipeGenerate, sent[0].name)
	payload, ok := sent[0].payload.(event.GeneratePayload)
	require.True(t, ok)
	assert.Equal(t, "Soup", payload.DishName)
}

func TestCreateRecipeOmitsCorrelationWhenEnrichmentFails(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("event store unavailable")

	w := f.do(t, http.MethodPost, "/api/recipes", []byte(`{"title":"Soup","ingredients":["carrot"],"instructions":"Boil.","nutrition":{"calories":40,"protein":1,"carbs":9,"fat":0}}`), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// The recipe is saved, but no persisted event backs a correlation id, so
	// the response must not hand one out.
	require.Len(t, f.recipes.created, 1)
	assert.NotContains(t, w.Body.String(), "correlationId")
	assert.Contains(t, w.Body.String(), `"enrichment":"not started"`)
}

func TestCreateRecipeUsesAnalyzedNutrition(t *testing.T) {
	f := newFixture(t)
	f.nutrition.n = recipe.Nutrition{Calories: 80, Protein: 2, Carbs: 15, Fat: 1}

	w := f.do(t, http.MethodPost, "/api/recipes", []byte(`{"title":"Soup","ingredients":["carrot"]}`), nil)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, f.recipes.created, 1)
	assert.Equal(t, f.nutrition.n, f.recipes.created[0].Nutrition)
}

func TestAddShoppingItemsDedupesAcrossCalls(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/shopping-lists/items", []byte(`{"items":["salt"]}`), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = f.do(t, http.MethodPost, "/api/shopping-lists/items", []byte(`{"items":["salt"]}`), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		List struct {
			Items  []shopping.Item  `json:"items"`
			Groups []shopping.Group `json:"groups"`
		} `json:"list"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.List.Items, 1)
	assert.Equal(t, "salt", resp.List.Items[0].Ingredient)
	require.Len(t, resp.List.Groups, 1)
	assert.Equal(t, shopping.UngroupedID, resp.List.Groups[0].RecipeID)
	assert.Equal(t, shopping.UngroupedTitle, resp.List.Groups[0].RecipeTitle)
}

func TestMealPlanRoundTrip(t *testing.T) {
	f := newFixture(t)

	meal := `{"meals":[{"id":"m1","time":"dinner","title":"Soup","ingredients":["carrot"],"nutrition":{"calories":80,"protein":2,"carbs":15,"fat":1},"isCustom":true}]}`
	w := f.do(t, http.MethodPost, "/api/meal-plans/2026-08-28/meals", []byte(meal), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/meal-plans/2026-08-28", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"title":"Soup"`)

	w = f.do(t, http.MethodPost, "/api/meal-plans/2026-08-28/meals", []byte(`{"meals":[{"id":"m2","time":"brunch","title":"X"}]}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProfileUpdate(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPut, "/api/profile", []byte(`{"dietaryPrefs":{"vegan":true},"restrictions":["gluten"]}`), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/profile", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"vegan":true`)
	assert.Contains(t, w.Body.String(), `"gluten"`)
}
