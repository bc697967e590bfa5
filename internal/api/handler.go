// Package api exposes the HTTP entry points: image upload, manual recipe
// creation, ad hoc nutrition analysis, shopping-list and meal-plan CRUD,
// profile management, and the auth-provider webhook.
package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nfnt/resize"
	"go.uber.org/zap"

	"mealsnap/internal/event"
	"mealsnap/internal/mealplan"
	"mealsnap/internal/recipe"
	"mealsnap/internal/shopping"
	"mealsnap/internal/user"
)

// UserStore defines the user operations the handlers need.
type UserStore interface {
	GetByExternalID(ctx context.Context, externalID string) (*user.User, error)
	Create(ctx context.Context, u *user.User) error
	UpdateProfile(ctx context.Context, externalID string, prefs map[string]any, restrictions []string) error
}

// RecipeStore defines the recipe operations the handlers need.
type RecipeStore interface {
	Create(ctx context.Context, r *recipe.Recipe) error
	GetByID(ctx context.Context, id uuid.UUID) (*recipe.Recipe, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*recipe.Recipe, error)
}

// ShoppingService defines the shopping-list operations the handlers need.
type ShoppingService interface {
	AddItems(ctx context.Context, userID uuid.UUID, items []shopping.Item) (*shopping.List, error)
	UpdateItem(ctx context.Context, userID uuid.UUID, index int, item shopping.Item) (*shopping.List, error)
	RemoveItem(ctx context.Context, userID uuid.UUID, index int) (*shopping.List, error)
	Lists(ctx context.Context, userID uuid.UUID) ([]*shopping.List, error)
}

// MealPlanStore defines the meal-plan operations the handlers need.
type MealPlanStore interface {
	CreateOrAppend(ctx context.Context, userID uuid.UUID, date time.Time, meals []mealplan.Meal) (*mealplan.Plan, error)
	GetByDate(ctx context.Context, userID uuid.UUID, date time.Time) (*mealplan.Plan, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*mealplan.Plan, error)
}

// NutritionAnalyzer estimates nutrition for an ad hoc ingredient list.
type NutritionAnalyzer interface {
	AnalyzeIngredients(ctx context.Context, ingredients []string) (recipe.Nutrition, error)
}

// EventSender emits pipeline events.
type EventSender interface {
	Send(ctx context.Context, name string, correlationID uuid.UUID, payload any) (uuid.UUID, error)
}

// Handler handles HTTP requests.
type Handler struct {
	Users     UserStore
	Recipes   RecipeStore
	Shopping  ShoppingService
	MealPlans MealPlanStore
	Nutrition NutritionAnalyzer
	Events    EventSender
	Logger    *zap.Logger
	UploadDir string
	MaxWidth  uint
	// CallTimeout bounds synchronous AI calls made on behalf of a request.
	CallTimeout time.Duration
}

// Routes registers all endpoints. Everything except the provisioning webhook
// sits behind the session middleware.
func (h *Handler) Routes(r *gin.Engine, jwtSecret string) {
	r.POST("/webhooks/auth", h.AuthWebhook)

	authed := r.Group("/api", AuthMiddleware(jwtSecret))
	authed.POST("/uploads", h.Upload)
	authed.GET("/recipes", h.ListRecipes)
	authed.POST("/recipes", h.CreateRecipe)
	authed.GET("/recipes/:id", h.GetRecipe)
	authed.POST("/nutrition/analyze", h.AnalyzeNutrition)
	authed.GET("/shopping-lists", h.ShoppingLists)
	authed.POST("/shopping-lists/items", h.AddShoppingItems)
	authed.PUT("/shopping-lists/items/:index", h.UpdateShoppingItem)
	authed.DELETE("/shopping-lists/items/:index", h.RemoveShoppingItem)
	authed.GET("/meal-plans", h.ListMealPlans)
	authed.GET("/meal-plans/:date", h.GetMealPlan)
	authed.POST("/meal-plans/:date/meals", h.AddMeals)
	authed.GET("/profile", h.Profile)
	authed.PUT("/profile", h.UpdateProfile)
}

var allowedExtensions = map[string]bool{
	".jpeg": true,
	".jpg":  true,
	".png":  true,
}

// Upload accepts a photo plus optional dish name, stores a downscaled copy,
// and starts a pipeline run by emitting ingredient/detect. The correlation id
// minted here is carried on every event of the run.
func (h *Handler) Upload(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	extension := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedExtensions[extension] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file type. Only JPEG, JPG, and PNG images are allowed."})
		return
	}
	dishName := c.PostForm("dishName")

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open uploaded file"})
		return
	}
	defer src.Close()

	imageData, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read uploaded file"})
		return
	}

	imagePath, err := h.saveResized(imageData, extension)
	if err != nil {
		h.Logger.Error("failed to store upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store image"})
		return
	}

	correlationID := uuid.New()
	_, err = h.Events.Send(c.Request.Context(), event.IngredientDetect, correlationID, event.DetectPayload{
		ImagePath: imagePath,
		UserID:    externalUserID(c),
		DishName:  dishName,
	})
	if err != nil {
		h.Logger.Error("failed to start pipeline", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start pipeline"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"correlationId": correlationID,
		"imagePath":     imagePath,
		"message":       "ingredient detection started",
	})
}

// saveResized decodes, downscales, and writes the image under a
// content-hash name so re-uploads of the same photo share one file.
func (h *Handler) saveResized(imageData []byte, extension string) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return "", err
	}
	img = resize.Resize(h.MaxWidth, 0, img, resize.Lanczos3)

	if err := os.MkdirAll(h.UploadDir, 0755); err != nil {
		return "", err
	}
	sum := sha256.Sum256(imageData)
	imagePath := filepath.Join(h.UploadDir, hex.EncodeToString(sum[:])+extension)

	out, err := os.Create(imagePath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	switch extension {
	case ".jpeg", ".jpg":
		err = jpeg.Encode(out, img, nil)
	case ".png":
		err = png.Encode(out, img)
	}
	if err != nil {
		return "", err
	}
	return imagePath, nil
}

type createRecipeRequest struct {
	Title        string            `json:"title" binding:"required"`
	Ingredients  []string          `json:"ingredients" binding:"required"`
	Instructions string            `json:"instructions"`
	Nutrition    *recipe.Nutrition `json:"nutrition"`
}

// CreateRecipe persists a manually entered recipe. When the caller supplies
// no nutrition it is estimated ad hoc; a failed estimate degrades to zero
// values instead of blocking the save. The saved recipe is also fed to the
// generation stage for downstream enrichment.
func (h *Handler) CreateRecipe(c *gin.Context) {
	var req createRecipeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u := h.resolveUser(c)
	if u == nil {
		return
	}

	var nutrition recipe.Nutrition
	if req.Nutrition != nil {
		nutrition = *req.Nutrition
	} else {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.CallTimeout)
		defer cancel()
		n, err := h.Nutrition.AnalyzeIngredients(ctx, req.Ingredients)
		if err != nil {
			h.Logger.Warn("ad hoc nutrition analysis failed, saving recipe without it", zap.Error(err))
		} else {
			nutrition = n
		}
	}

	rec := &recipe.Recipe{
		UserID:       u.ID,
		Title:        req.Title,
		Ingredients:  req.Ingredients,
		Instructions: req.Instructions,
		Nutrition:    nutrition,
	}
	if err := h.Recipes.Create(c.Request.Context(), rec); err != nil {
		h.Logger.Error("failed to save recipe", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save recipe"})
		return
	}

	resp := gin.H{"recipe": rec}
	correlationID := uuid.New()
	_, err := h.Events.Send(c.Request.Context(), event.RecipeGenerate, correlationID, event.GeneratePayload{
		Ingredients:  req.Ingredients,
		DietaryPrefs: u.DietaryPrefs,
		UserID:       u.ExternalID,
		DishName:     req.Title,
	})
	if err != nil {
		// The recipe itself is saved; only hand out a correlation id when an
		// event actually carries it.
		h.Logger.Error("failed to trigger recipe enrichment", zap.Error(err))
		resp["enrichment"] = "not started"
	} else {
		resp["correlationId"] = correlationID
	}

	c.JSON(http.StatusCreated, resp)
}

// ListRecipes returns the caller's recipes, newest first.
func (h *Handler) ListRecipes(c *gin.Context) {
	u := h.resolveUser(c)
	if u == nil {
		return
	}
	recipes, err := h.Recipes.ListByUser(c.Request.Context(), u.ID)
	if err != nil {
		h.Logger.Error("failed to list recipes", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list recipes"})
		return
	}
	if recipes == nil {
		recipes = []*recipe.Recipe{}
	}
	c.JSON(http.StatusOK, gin.H{"recipes": recipes})
}

// GetRecipe returns one of the caller's recipes.
func (h *Handler) GetRecipe(c *gin.Context) {
	u := h.resolveUser(c)
	if u == nil {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recipe id"})
		return
	}
	rec, err := h.Recipes.GetByID(c.Request.Context(), id)
	if err != nil {
		h.Logger.Error("failed to get recipe", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get recipe"})
		return
	}
	if rec == nil || rec.UserID != u.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "recipe not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recipe": rec})
}

type analyzeRequest struct {
	Ingredients []string `json:"ingredients" binding:"required"`
}

// AnalyzeNutrition runs a user-initiated nutrition estimate. Unlike the
// manual-recipe path, a failure here surfaces to the caller as an error.
func (h *Handler) AnalyzeNutrition(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Ingredients) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ingredients are required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.CallTimeout)
	defer cancel()

	nutrition, err := h.Nutrition.AnalyzeIngredients(ctx, req.Ingredients)
	if err != nil {
		h.Logger.Error("nutrition analysis failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "nutrition analysis failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"nutrition": nutrition})
}

// listView is the grouped rendering of one shopping list.
type listView struct {
	ID        uuid.UUID        `json:"id"`
	Items     []shopping.Item  `json:"items"`
	Groups    []shopping.Group `json:"groups"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

func viewOf(l *shopping.List) listView {
	return listView{ID: l.ID, Items: l.Items, Groups: shopping.GroupItems(l.Items), CreatedAt: l.CreatedAt, UpdatedAt: l.UpdatedAt}
}

// ShoppingLists returns all of the caller's lists, grouped by recipe.
func (h *Handler) ShoppingLists(c *gin.Context) {
	u := h.resolveUser(c)
	if u == nil {
		return
	}
	lists, err := h.Shopping.Lists(c.Request.Context(), u.ID)
	if err != nil {
		h.Logger.Error("failed to list shopping lists", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list shopping lists"})
		return
	}
	views := make([]listView, 0, len(lists))
	for _, l := range lists {
		views = append(views, viewOf(l))
	}
	c.JSON(http.StatusOK, gin.H{"lists": views})
}

type addItemsRequest struct {
	Items []shopping.Item `json:"items" binding:"required"`
}

// AddShoppingItems merge-appends items into the caller's current-day list.
func (h *Handler) AddShoppingItems(c *gin.Context) {
	var req addItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "items are required"})
		return
	}
	u := h.resolveUser(c)
	if u == nil {
		return
	}
	list, err := h.Shopping.AddItems(c.Request.Context(), u.ID, req.Items)
	if err != nil {
		h.Logger.Error("failed to add shopping items", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add shopping items"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"list": viewOf(list)})
}

type updateItemRequest struct {
	Item shopping.Item `json:"item"`
}

// UpdateShoppingItem replaces the item at a flat index in the current-day
// list.
func (h *Handler) UpdateShoppingItem(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item index"})
		return
	}
	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u := h.resolveUser(c)
	if u == nil {
		return
	}
	list, err := h.Shopping.UpdateItem(c.Request.Context(), u.ID, index, req.Item)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"list": viewOf(list)})
}

// RemoveShoppingItem deletes the item at a flat index in the current-day
// list.
func (h *Handler) RemoveShoppingItem(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item index"})
		return
	}
	u := h.resolveUser(c)
	if u == nil {
		return
	}
	list, err := h.Shopping.RemoveItem(c.Request.Context(), u.ID, index)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"list": viewOf(list)})
}

// ListMealPlans returns all of the caller's meal plans.
func (h *Handler) ListMealPlans(c *gin.Context) {
	u := h.resolveUser(c)
	if u == nil {
		return
	}
	plans, err := h.MealPlans.ListByUser(c.Request.Context(), u.ID)
	if err != nil {
		h.Logger.Error("failed to list meal plans", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list meal plans"})
		return
	}
	if plans == nil {
		plans = []*mealplan.Plan{}
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

// GetMealPlan returns the caller's plan for one date.
func (h *Handler) GetMealPlan(c *gin.Context) {
	date, err := time.Parse("2006-01-02", c.Param("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
		return
	}
	u := h.resolveUser(c)
	if u == nil {
		return
	}
	plan, err := h.MealPlans.GetByDate(c.Request.Context(), u.ID, date)
	if err != nil {
		h.Logger.Error("failed to get meal plan", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get meal plan"})
		return
	}
	if plan == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no meal plan for this date"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan})
}

type addMealsRequest struct {
	Meals []mealplan.Meal `json:"meals" binding:"required"`
}

// AddMeals appends meals to the caller's plan for one date.
func (h *Handler) AddMeals(c *gin.Context) {
	date, err := time.Parse("2006-01-02", c.Param("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
		return
	}
	var req addMealsRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Meals) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "meals are required"})
		return
	}
	for _, m := range req.Meals {
		if !m.Time.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid meal time " + string(m.Time)})
			return
		}
	}
	u := h.resolveUser(c)
	if u == nil {
		return
	}
	plan, err := h.MealPlans.CreateOrAppend(c.Request.Context(), u.ID, date, req.Meals)
	if err != nil {
		h.Logger.Error("failed to save meal plan", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save meal plan"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan})
}

// Profile returns the caller's account and dietary profile.
func (h *Handler) Profile(c *gin.Context) {
	u := h.resolveUser(c)
	if u == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

type updateProfileRequest struct {
	DietaryPrefs map[string]any `json:"dietaryPrefs"`
	Restrictions []string       `json:"restrictions"`
}

// UpdateProfile replaces the caller's dietary preferences and restrictions.
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u := h.resolveUser(c)
	if u == nil {
		return
	}
	if err := h.Users.UpdateProfile(c.Request.Context(), u.ExternalID, req.DietaryPrefs, req.Restrictions); err != nil {
		h.Logger.Error("failed to update profile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "profile updated"})
}

type authWebhookRequest struct {
	Type string `json:"type"`
	Data struct {
		ID             string `json:"id"`
		EmailAddresses []struct {
			EmailAddress string `json:"email_address"`
		} `json:"email_addresses"`
	} `json:"data"`
}

// AuthWebhook provisions an account when the identity provider reports a new
// user. Webhooks are delivered at least once, so an already-known user is
// acknowledged without change.
func (h *Handler) AuthWebhook(c *gin.Context) {
	var req authWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Type != "user.created" {
		c.JSON(http.StatusOK, gin.H{"message": "ignored"})
		return
	}
	if req.Data.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user id"})
		return
	}

	email := ""
	if len(req.Data.EmailAddresses) > 0 {
		email = req.Data.EmailAddresses[0].EmailAddress
	}
	u := &user.User{ExternalID: req.Data.ID, Email: email}
	if err := h.Users.Create(c.Request.Context(), u); err != nil {
		h.Logger.Error("failed to provision user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to provision user"})
		return
	}
	h.Logger.Info("user provisioned", zap.String("external_id", req.Data.ID))
	c.JSON(http.StatusOK, gin.H{"message": "user created"})
}

// resolveUser loads the authenticated caller's account, writing the error
// response itself when that fails.
func (h *Handler) resolveUser(c *gin.Context) *user.User {
	u, err := h.Users.GetByExternalID(c.Request.Context(), externalUserID(c))
	if err != nil {
		h.Logger.Error("failed to resolve user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve user"})
		return nil
	}
	if u == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return nil
	}
	return u
}
