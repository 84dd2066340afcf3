package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apoorv-echos11/polling-app/internal/models"
	"github.com/apoorv-echos11/polling-app/internal/poll"
)

// --- Structs for request binding ---

type CreatePollInput struct {
	Title     string                 `json:"title"`
	Questions []models.QuestionInput `json:"questions"`
}

type UpdatePollInput struct {
	AdminToken string                 `json:"adminToken" binding:"required"`
	Title      string                 `json:"title"`
	Questions  []models.QuestionInput `json:"questions"`
}

type ActivateInput struct {
	AdminToken    string `json:"adminToken"`
	AdminPassword string `json:"adminPassword"`
}

type ClearResultsInput struct {
	AdminToken string `json:"adminToken" binding:"required"`
}

type VerifyInput struct {
	Password string `json:"password" binding:"required"`
}

// --- Handlers ---

// Env carries the handlers' dependencies, constructed once at startup rather
// than reached for through globals.
type Env struct {
	Service *poll.Service
}

// Health reports liveness.
func (e *Env) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ActivePoll returns the id and title of the currently active poll.
func (e *Env) ActivePoll(c *gin.Context) {
	summary, err := e.Service.ActivePoll(c.Request.Context())
	if err != nil {
		if errors.Is(err, poll.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No active poll found"})
			return
		}
		e.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// CreatePoll creates a new poll and makes it the active one.
func (e *Env) CreatePoll(c *gin.Context) {
	var input CreatePollInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}
	result, err := e.Service.Create(c.Request.Context(), input.Title, input.Questions)
	if err != nil {
		e.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// GetPoll returns a poll for voters, admin token stripped. An existing but
// inactive poll answers 403 with an inactive flag so the UI can distinguish
// "closed" from "gone".
func (e *Env) GetPoll(c *gin.Context) {
	pub, err := e.Service.GetPublic(c.Request.Context(), c.Param("pollId"))
	if err != nil {
		if errors.Is(err, poll.ErrPollClosed) {
			c.JSON(http.StatusForbidden, gin.H{"error": "This poll is no longer active", "inactive": true})
			return
		}
		e.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"poll": pub})
}

// GetAdminPoll verifies the admin token from the URL and returns the full
// poll.
func (e *Env) GetAdminPoll(c *gin.Context) {
	full, err := e.Service.GetAdmin(c.Request.Context(), c.Param("pollId"), c.Param("adminToken"))
	if err != nil {
		e.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"poll": full, "isAdmin": true})
}

// UpdatePoll edits a poll's title and questions, preserving compatible
// tallies.
func (e *Env) UpdatePoll(c *gin.Context) {
	var input UpdatePollInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}
	updated, err := e.Service.Update(c.Request.Context(), c.Param("pollId"), input.AdminToken, input.Title, input.Questions)
	if err != nil {
		e.fail(c, err)
		return
	}
	pub := updated.Public()
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Poll updated successfully", "poll": pub})
}

// ActivatePoll makes a poll the active one, deactivating all others.
func (e *Env) ActivatePoll(c *gin.Context) {
	var input ActivateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}
	activated, err := e.Service.Activate(c.Request.Context(), c.Param("pollId"), input.AdminToken, input.AdminPassword)
	if err != nil {
		e.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Poll activated successfully", "poll": activated})
}

// ClearResults zeroes a poll's tallies and participant count.
func (e *Env) ClearResults(c *gin.Context) {
	var input ClearResultsInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}
	cleared, err := e.Service.ClearResults(c.Request.Context(), c.Param("pollId"), input.AdminToken)
	if err != nil {
		e.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Poll results cleared successfully", "poll": cleared})
}

// GetResults returns the current results snapshot, active or not.
func (e *Env) GetResults(c *gin.Context) {
	payload, err := e.Service.Results(c.Request.Context(), c.Param("pollId"))
	if err != nil {
		e.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

// VerifyAdmin checks the master password.
func (e *Env) VerifyAdmin(c *gin.Context) {
	var input VerifyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}
	if !e.Service.VerifyMaster(input.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid admin password"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Admin access granted"})
}

// ListPolls returns summaries of every poll for the master admin view.
func (e *Env) ListPolls(c *gin.Context) {
	summaries, err := e.Service.Summaries(c.Request.Context(), c.Query("password"))
	if err != nil {
		e.failMaster(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"polls": summaries, "totalPolls": len(summaries)})
}

// DeletePoll deletes one poll and its vote markers. Master secret only.
func (e *Env) DeletePoll(c *gin.Context) {
	deleted, purged, err := e.Service.Remove(c.Request.Context(), c.Param("pollId"), c.Query("password"))
	if err != nil {
		e.failMaster(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"message":         "Poll \"" + deleted.Title + "\" deleted successfully",
		"deletedVoteKeys": purged,
	})
}

// DeleteAllPolls wipes every poll and marker. Master secret plus exact
// confirmation phrase.
func (e *Env) DeleteAllPolls(c *gin.Context) {
	result, err := e.Service.RemoveAll(c.Request.Context(), c.Query("password"), c.Query("confirm"))
	if err != nil {
		e.failMaster(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"message":         "All polls deleted successfully",
		"deletedPolls":    result.DeletedPolls,
		"deletedVoteKeys": result.DeletedMarkers,
	})
}

// fail translates service errors for poll-scoped endpoints, where an auth
// failure means a bad per-poll token (403).
func (e *Env) fail(c *gin.Context, err error) {
	respondError(c, err, http.StatusForbidden)
}

// failMaster is fail for master-secret endpoints, where an auth failure is a
// bad password (401).
func (e *Env) failMaster(c *gin.Context, err error) {
	respondError(c, err, http.StatusUnauthorized)
}

func respondError(c *gin.Context, err error, authStatus int) {
	var validationErr *poll.ValidationError
	var authErr *poll.AuthError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Msg})
	case errors.As(err, &authErr):
		c.JSON(authStatus, gin.H{"error": authErr.Msg})
	case errors.Is(err, poll.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Poll not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
