package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/airframesio/epias-extractor/cmd/coordinator"
	"github.com/airframesio/epias-extractor/cmd/epias"
	"github.com/airframesio/epias-extractor/cmd/export"
	"github.com/airframesio/epias-extractor/cmd/sinks"
)

const workbookContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type jobRequest struct {
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date" binding:"required"`
	PlantID   *int64 `json:"plant_id,omitempty"`
	ChunkDays int    `json:"chunk_days,omitempty"`
}

func statusFor(err error) int {
	switch {
	case epias.IsAuthError(err),
		errors.Is(err, epias.ErrNotAuthenticated),
		errors.Is(err, epias.ErrCredentialsRequired):
		return http.StatusUnauthorized
	case errors.Is(err, coordinator.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrJobRunning),
		errors.Is(err, coordinator.ErrJobNotComplete):
		return http.StatusConflict
	case errors.Is(err, coordinator.ErrInvalidRange),
		errors.Is(err, coordinator.ErrInvalidChunkDays):
		return http.StatusBadRequest
	case errors.Is(err, export.ErrNoRecords):
		return http.StatusUnprocessableEntity
	case errors.Is(err, sinks.ErrNoSinks):
		return http.StatusServiceUnavailable
	}
	var fetchErr *epias.FetchError
	if errors.As(err, &fetchErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{
		"status":          "healthy",
		"active_sessions": s.SessionCount(),
		"active_jobs":     s.JobCount(),
		"version":         s.config.Version,
		"uptime":          time.Since(s.started).Round(time.Second).String(),
		"timestamp":       time.Now(),
	}

	if len(s.config.Health) > 0 {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		checks := make(map[string]string, len(s.config.Health))
		for name, check := range s.config.Health {
			if err := check(ctx); err != nil {
				checks[name] = err.Error()
				body["status"] = "degraded"
				continue
			}
			checks[name] = "ok"
		}
		body["checks"] = checks
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) plants(c *gin.Context) {
	plants, err := currentSession(c).Client.Plants(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "plants": plants, "count": len(plants)})
}

func (s *Server) uevcbs(c *gin.Context) {
	org, err := strconv.ParseInt(c.Param("org"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid organization id"})
		return
	}
	units, err := currentSession(c).Client.UEVCBs(c.Request.Context(), org)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "uevcbs": units, "count": len(units)})
}

func (s *Server) startJob(c *gin.Context) {
	var req jobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "start_date and end_date are required"})
		return
	}
	if req.ChunkDays < 0 || req.ChunkDays > coordinator.MaxChunkDays {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   fmt.Sprintf("chunk_days must be between 1 and %d", coordinator.MaxChunkDays),
		})
		return
	}
	r, err := coordinator.ParseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	session := currentSession(c)
	id, err := session.Coordinator.Start(c.Request.Context(), coordinator.Request{
		Range:     r,
		PlantID:   req.PlantID,
		ChunkDays: req.ChunkDays,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	status, err := session.Coordinator.Poll(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "job_id": id, "status": status})
}

func (s *Server) listJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": currentSession(c).Coordinator.Jobs()})
}

func (s *Server) pollJob(c *gin.Context) {
	status, err := currentSession(c).Coordinator.Poll(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) resumeJob(c *gin.Context) {
	session := currentSession(c)
	id := c.Param("id")
	if err := session.Coordinator.Resume(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	status, err := session.Coordinator.Poll(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "job_id": id, "status": status})
}

func (s *Server) jobResult(c *gin.Context) {
	result, err := currentSession(c).Coordinator.Result(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// workbook renders the export of a complete job. The plant sheet is added
// when include_plants=true and the plant list can be fetched.
func (s *Server) workbook(c *gin.Context, session *Session, result *coordinator.Result) ([]byte, error) {
	opts := export.Options{Username: session.Username}
	if c.Query("include_plants") == "true" {
		plants, err := session.Client.Plants(c.Request.Context())
		if err != nil {
			s.logger.Warn(fmt.Sprintf("⚠️  Exporting without plant sheet: %v", err))
		} else {
			opts.Plants = plants
		}
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, result.Records, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Server) exportJob(c *gin.Context) {
	session := currentSession(c)
	result, err := session.Coordinator.Result(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	data, err := s.workbook(c, session, result)
	if err != nil {
		respondError(c, err)
		return
	}

	filename := export.DefaultFilename(time.Now())
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, workbookContentType, data)
}

func (s *Server) publishJob(c *gin.Context) {
	if s.config.Sinks == nil || s.config.Sinks.Len() == 0 {
		respondError(c, sinks.ErrNoSinks)
		return
	}

	session := currentSession(c)
	result, err := session.Coordinator.Result(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	var workbook []byte
	if len(result.Records) > 0 {
		if workbook, err = s.workbook(c, session, result); err != nil {
			respondError(c, err)
			return
		}
	}

	if err := s.config.Sinks.Publish(c.Request.Context(), sinks.NewBatch(result, workbook)); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"published": s.config.Sinks.Names(),
		"records":   result.Count,
	})
}
