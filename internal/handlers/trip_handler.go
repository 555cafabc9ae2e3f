package handlers

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/matatufleet/booking-backend/internal/database"
	"github.com/matatufleet/booking-backend/internal/models"
	"github.com/matatufleet/booking-backend/internal/services"
)

// TripHandler handles trip inventory endpoints
type TripHandler struct {
	tripRepo  *database.TripRepository
	inventory *services.SeatInventoryService
	logger    *logrus.Logger
}

// NewTripHandler creates a new TripHandler
func NewTripHandler(tripRepo *database.TripRepository, inventory *services.SeatInventoryService, logger *logrus.Logger) *TripHandler {
	return &TripHandler{
		tripRepo:  tripRepo,
		inventory: inventory,
		logger:    logger,
	}
}

// CreateTripRequest is the inbound payload for registering a trip
type CreateTripRequest struct {
	RouteName          string    `json:"route_name" binding:"required"`
	VehicleRef         string    `json:"vehicle_ref" binding:"required"`
	Fare               float64   `json:"fare" binding:"required"`
	ScheduledDeparture time.Time `json:"scheduled_departure" binding:"required"`
	TotalSeats         int       `json:"total_seats" binding:"required"`
}

// CreateTrip registers a trip for booking
// @Summary Create trip
// @Tags Trips
// @Accept json
// @Produce json
// @Param request body CreateTripRequest true "Trip"
// @Success 201 {object} models.Trip
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Router /trips [post]
func (h *TripHandler) CreateTrip(c *gin.Context) {
	var req CreateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.TotalSeats <= 0 || req.Fare <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "total_seats and fare must be positive"})
		return
	}
	if req.Fare != math.Trunc(req.Fare) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fare must be a whole number of KES"})
		return
	}

	trip := &models.Trip{
		RouteName:          req.RouteName,
		VehicleRef:         req.VehicleRef,
		Fare:               req.Fare,
		ScheduledDeparture: req.ScheduledDeparture,
		TotalSeats:         req.TotalSeats,
	}
	if err := h.tripRepo.CreateTrip(trip); err != nil {
		h.logger.WithError(err).Error("Failed to create trip")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, trip)
}

// ListTrips returns bookable trips
// @Summary List bookable trips
// @Tags Trips
// @Produce json
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {array} models.Trip
// @Router /trips [get]
func (h *TripHandler) ListTrips(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	trips, err := h.tripRepo.ListBookableTrips(limit, offset)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list trips")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trips": trips, "count": len(trips)})
}

// GetTrip returns a trip with its seat availability
// @Summary Get trip
// @Tags Trips
// @Produce json
// @Param trip_id path string true "Trip ID"
// @Success 200 {object} models.Trip
// @Failure 404 {object} map[string]interface{} "Trip not found"
// @Router /trips/{trip_id} [get]
func (h *TripHandler) GetTrip(c *gin.Context) {
	tripID, err := uuid.Parse(c.Param("trip_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trip id"})
		return
	}

	trip, err := h.tripRepo.GetTripByID(tripID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, trip)
}

// CancelTrip withdraws a scheduled trip from sale
// @Summary Cancel trip
// @Tags Trips
// @Produce json
// @Param trip_id path string true "Trip ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{} "Trip not found or not scheduled"
// @Router /trips/{trip_id}/cancel [post]
func (h *TripHandler) CancelTrip(c *gin.Context) {
	tripID, err := uuid.Parse(c.Param("trip_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trip id"})
		return
	}

	if err := h.tripRepo.CancelTrip(tripID); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "trip cancelled"})
}

// CheckTripAccounting verifies the seat accounting for a trip: available plus
// booked plus actively held seats must equal the vehicle's total
// @Summary Check trip seat accounting
// @Tags Trips
// @Produce json
// @Param trip_id path string true "Trip ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{} "Trip not found"
// @Router /trips/{trip_id}/accounting [get]
func (h *TripHandler) CheckTripAccounting(c *gin.Context) {
	tripID, err := uuid.Parse(c.Param("trip_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trip id"})
		return
	}

	consistent, err := h.inventory.VerifyTripAccounting(tripID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trip_id": tripID, "consistent": consistent})
}
