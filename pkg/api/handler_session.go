package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dialogkit/dialogkit/pkg/checkpoint"
)

// getSession handles GET /api/v1/sessions/:id.
func (s *Server) getSession(c *gin.Context) {
	sessionID := c.Param("id")

	snap, err := s.loop.Session(c.Request.Context(), sessionID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse(snap))
}

// listCheckpoints handles GET /api/v1/sessions/:id/checkpoints.
func (s *Server) listCheckpoints(c *gin.Context) {
	sessionID := c.Param("id")

	chain, err := s.loop.History(c.Request.Context(), sessionID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := CheckpointListResponse{
		SessionID:   sessionID,
		Checkpoints: make([]CheckpointSummary, 0, len(chain)),
	}
	for _, snap := range chain {
		resp.Checkpoints = append(resp.Checkpoints, CheckpointSummary{
			CheckpointID: snap.CheckpointID,
			ParentID:     snap.ParentID,
			CreatedAt:    snap.CreatedAt,
			Paused:       snap.Paused(),
			NextNodes:    snap.NextNodes,
			TurnCount:    snap.State.TurnCount,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// RewindRequest is the body of POST /api/v1/sessions/:id/rewind.
type RewindRequest struct {
	CheckpointID string `json:"checkpoint_id" binding:"required"`
}

// rewindSession handles POST /api/v1/sessions/:id/rewind. The target
// checkpoint becomes the latest; everything after it is discarded.
func (s *Server) rewindSession(c *gin.Context) {
	sessionID := c.Param("id")

	var req RewindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := s.loop.RewindTo(c.Request.Context(), sessionID, req.CheckpointID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse(snap))
}

// endSession handles DELETE /api/v1/sessions/:id.
func (s *Server) endSession(c *gin.Context) {
	sessionID := c.Param("id")

	if err := s.loop.EndSession(c.Request.Context(), sessionID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "status": "ended"})
}

func sessionResponse(snap *checkpoint.Snapshot) *SessionResponse {
	st := snap.State
	resp := &SessionResponse{
		SessionID:         snap.SessionID,
		CheckpointID:      snap.CheckpointID,
		ConversationState: string(st.ConversationState),
		WaitingForSlot:    st.WaitingForSlot,
		TurnCount:         st.TurnCount,
		Paused:            snap.Paused(),
		PendingPrompts:    snap.PendingInterrupts,
		FlowStack:         make([]FlowSummary, 0, len(st.FlowStack)),
		LastResponse:      st.LastResponse,
	}
	for _, fc := range st.FlowStack {
		resp.FlowStack = append(resp.FlowStack, FlowSummary{
			FlowID:    fc.FlowID,
			FlowName:  fc.FlowName,
			FlowState: string(fc.FlowState),
		})
	}
	return resp
}
