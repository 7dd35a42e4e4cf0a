package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"tbs/src/config"
	"tbs/src/db"
	"tbs/src/lib"
	"tbs/src/middlewares"
	"tbs/src/models"
	"tbs/src/types"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/tidwall/gjson"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type TestSuite struct {
	Customer      models.User
	Owner         models.User
	CustomerToken string
	OwnerToken    string
	DB            *gorm.DB
	PublishedTour models.Tour
	DraftTour     models.Tour
	Slot          models.TimeSlot
	suite.Suite
}

var dbi *gorm.DB

// stubPayments answers every payment call successfully so the route
// tests never reach Stripe.
type stubPayments struct{}

func (stubPayments) CreateCheckout(ctx context.Context, in lib.CheckoutInput) (string, string, error) {
	return "cs_stub", fmt.Sprintf("https://checkout.example/booking/%d", in.BookingID), nil
}

func (stubPayments) CreateRefund(ctx context.Context, paymentIntentId string, amountMinor int64, reason string) (string, error) {
	return "re_stub", nil
}

func (stubPayments) CreateTransfer(ctx context.Context, destinationAccountId string, amountMinor int64, currency string, bookingRef string) (string, error) {
	return "tr_stub", nil
}

func (stubPayments) ReverseTransfer(ctx context.Context, transferId string, amountMinor int64) (string, error) {
	return "trr_stub", nil
}

func (s *TestSuite) SetupSuite() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("bookabledate", bookableDateValidatorFunc)
		v.RegisterValidation("gtdate", gtfield)
		v.RegisterValidation("ltdate", ltfield)
	}

	conn, err := gorm.Open(sqlite.Open("file:maintest?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		log.Fatalf("error opening test database: %s", err.Error())
	}
	db.NewDB(conn)
	s.DB = conn
	dbi = conn

	if err := dbi.AutoMigrate(
		&models.User{},
		&models.Operator{},
		&models.Tour{},
		&models.TimeSlot{},
		&models.Booking{},
	); err != nil {
		log.Fatalf("error migration: %s", err.Error())
	}

	s.Customer = models.User{Email: "customer@example.com", Name: "Test Customer"}
	s.Owner = models.User{Email: "owner@example.com", Name: "Tour Owner"}
	acct := "acct_suite"
	operator := models.Operator{Name: "Summit Tours", Slug: "summit-tours", StripeAccountID: &acct, PayoutsEnabled: true}
	if err := conn.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&s.Customer).Error; err != nil {
			return err
		}
		if err := tx.Create(&s.Owner).Error; err != nil {
			return err
		}
		operator.OwnerID = s.Owner.ID
		if err := tx.Create(&operator).Error; err != nil {
			return err
		}
		return tx.Model(&s.Owner).Update("active_operator", operator.ID).Error
	}); err != nil {
		log.Fatalf("could not seed users: %s", err.Error())
	}
	s.Owner.ActiveOperator = operator.ID

	s.PublishedTour = models.Tour{
		Title:              "Summit Hike",
		Location:           "Alps",
		Capacity:           8,
		Price:              120,
		Currency:           "usd",
		CancellationPolicy: "flexible",
		Status:             types.TOUR_PUBLISHED,
		OperatorID:         operator.ID,
		CreatedBy:          s.Owner.ID,
		Slug:               "summit-hike",
	}
	s.DraftTour = models.Tour{
		Title:              "Night Kayak",
		Location:           "Fjord",
		Capacity:           4,
		Price:              60,
		Currency:           "usd",
		CancellationPolicy: "moderate",
		Status:             types.TOUR_DRAFT,
		OperatorID:         operator.ID,
		CreatedBy:          s.Owner.ID,
		Slug:               "night-kayak",
	}
	if err := conn.Create(&s.PublishedTour).Error; err != nil {
		log.Fatalf("could not seed tour: %s", err.Error())
	}
	if err := conn.Create(&s.DraftTour).Error; err != nil {
		log.Fatalf("could not seed tour: %s", err.Error())
	}
	s.Slot = models.TimeSlot{
		TourID:         s.PublishedTour.ID,
		StartTime:      time.Now().Add(14 * 24 * time.Hour).UTC(),
		EndTime:        time.Now().Add(14*24*time.Hour + 3*time.Hour).UTC(),
		AvailableSpots: 8,
		Status:         types.TIMESLOT_AVAILABLE,
	}
	if err := conn.Create(&s.Slot).Error; err != nil {
		log.Fatalf("could not seed time slot: %s", err.Error())
	}

	customerToken, err := generateJWT(&s.Customer)
	if err != nil {
		log.Fatalf("error generating JWT token: %s", err.Error())
	}
	ownerToken, err := generateJWT(&s.Owner)
	if err != nil {
		log.Fatalf("error generating JWT token: %s", err.Error())
	}
	s.CustomerToken = customerToken
	s.OwnerToken = ownerToken
}

func (s *TestSuite) TearDownSuite() {
	inner, err := s.DB.DB()
	if err != nil {
		log.Printf("Error accessing inner db instance: %s\n", err.Error())
		return
	}
	inner.Close()
}

// newAPIRouter wires the route groups the way main does, minus the
// broker and scheduler boot.
func newAPIRouter() *gin.Engine {
	router := setupRouter()
	guestAuthRoutes(router)
	authorized := router.Group(apiPrefix)
	authorized.Use(middlewares.AuthMiddleware)
	{
		authorized = tourHandlers(authorized)
		authorized = bookingHandlers(authorized)
		operator := authorized.Group("")
		operator.Use(middlewares.OperatorOnly)
		{
			operator = timeslotHandlers(operator)
		}
	}
	return router
}

func (s *TestSuite) request(router *gin.Engine, method, url, token string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		assert.Nil(s.T(), err)
		reader = strings.NewReader(string(b))
	}
	req, _ := http.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func (s *TestSuite) TestPingRoute() {
	router := setupRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/", nil)
	router.ServeHTTP(w, req)

	assert.Equal(s.T(), 200, w.Code)
}

func (s *TestSuite) TestMaintenanceMode() {
	os.Setenv("MAINTENANCE_MODE", "true")
	defer os.Unsetenv("MAINTENANCE_MODE")

	router := setupRouter()
	router = maintenanceModeMiddleware(router)
	apiv1Group(router)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1", nil)
	router.ServeHTTP(w, req)

	assert.Equal(s.T(), 503, w.Code)
}

func (s *TestSuite) TestAuthRoutes() {
	router := setupRouter()
	guestAuthRoutes(router)

	s.Run("register returns a token", func() {
		w := s.request(router, "POST", "/api/v1/auth/register", "", map[string]any{
			"email": "new@example.com",
			"name":  "New User",
		})
		assert.Equal(s.T(), 200, w.Code)
		rbytes, err := io.ReadAll(w.Body)
		assert.Nil(s.T(), err)
		token := gjson.Get(string(rbytes), "token").String()
		assert.NotEmpty(s.T(), token)
	})

	s.Run("duplicate registration is rejected", func() {
		w := s.request(router, "POST", "/api/v1/auth/register", "", map[string]any{
			"email": "customer@example.com",
		})
		assert.Equal(s.T(), 400, w.Code)
	})

	s.Run("login returns a token for a known account", func() {
		w := s.request(router, "POST", "/api/v1/auth/login", "", map[string]any{
			"email": "customer@example.com",
		})
		assert.Equal(s.T(), 200, w.Code)
		rbytes, err := io.ReadAll(w.Body)
		assert.Nil(s.T(), err)
		assert.NotEmpty(s.T(), gjson.Get(string(rbytes), "token").String())
	})

	s.Run("login rejects unknown accounts", func() {
		w := s.request(router, "POST", "/api/v1/auth/login", "", map[string]any{
			"email": "nobody@example.com",
		})
		assert.Equal(s.T(), 401, w.Code)
	})
}

func (s *TestSuite) TestAuthorization() {
	router := newAPIRouter()

	s.Run("requests without a token are unauthorized", func() {
		w := s.request(router, "GET", "/api/v1/tours", "", nil)
		assert.Equal(s.T(), 401, w.Code)
	})

	s.Run("customers cannot reach operator routes", func() {
		w := s.request(router, "PUT", fmt.Sprintf("/api/v1/slots/%d/capacity", s.Slot.ID), s.CustomerToken, map[string]any{
			"available_spots": 20,
		})
		assert.Equal(s.T(), 403, w.Code)
	})
}

func (s *TestSuite) TestTours() {
	router := newAPIRouter()

	s.Run("lists only published tours", func() {
		w := s.request(router, "GET", "/api/v1/tours", s.CustomerToken, nil)
		assert.Equal(s.T(), 200, w.Code)
		rbytes, err := io.ReadAll(w.Body)
		assert.Nil(s.T(), err)
		sjson := string(rbytes)
		for _, tour := range gjson.Get(sjson, "data").Array() {
			assert.Equal(s.T(), string(types.TOUR_PUBLISHED), tour.Get("status").String())
		}
	})

	s.Run("tour detail includes available slots", func() {
		w := s.request(router, "GET", fmt.Sprintf("/api/v1/tours/%d", s.PublishedTour.ID), s.CustomerToken, nil)
		assert.Equal(s.T(), 200, w.Code)
		rbytes, err := io.ReadAll(w.Body)
		assert.Nil(s.T(), err)
		slots := gjson.Get(string(rbytes), "data.time_slots").Array()
		assert.Greater(s.T(), len(slots), 0)
	})

	s.Run("customers cannot create tours", func() {
		w := s.request(router, "POST", "/api/v1/tours", s.CustomerToken, map[string]any{
			"title":               "Rogue Tour",
			"location":            "Nowhere",
			"capacity":            5,
			"price":               10,
			"currency":            "usd",
			"cancellation_policy": "flexible",
		})
		assert.Equal(s.T(), 403, w.Code)
	})

	s.Run("operators create draft tours", func() {
		w := s.request(router, "POST", "/api/v1/tours", s.OwnerToken, map[string]any{
			"title":               "Cave Walk",
			"location":            "Karst",
			"capacity":            6,
			"price":               45,
			"currency":            "usd",
			"cancellation_policy": "strict",
		})
		assert.Equal(s.T(), 201, w.Code)
		rbytes, err := io.ReadAll(w.Body)
		assert.Nil(s.T(), err)
		assert.Equal(s.T(), string(types.TOUR_DRAFT), gjson.Get(string(rbytes), "data.status").String())
	})

	s.Run("unknown cancellation policy is rejected", func() {
		w := s.request(router, "POST", "/api/v1/tours", s.OwnerToken, map[string]any{
			"title":               "Mystery Tour",
			"location":            "Somewhere",
			"capacity":            5,
			"price":               10,
			"currency":            "usd",
			"cancellation_policy": "whatever",
		})
		assert.Equal(s.T(), 400, w.Code)
	})

	s.Run("publishing a draft", func() {
		w := s.request(router, "PUT", fmt.Sprintf("/api/v1/tours/%d/publish", s.DraftTour.ID), s.OwnerToken, nil)
		assert.Equal(s.T(), 200, w.Code)

		// Already published; the conditional update matches nothing.
		w = s.request(router, "PUT", fmt.Sprintf("/api/v1/tours/%d/publish", s.DraftTour.ID), s.OwnerToken, nil)
		assert.Equal(s.T(), 422, w.Code)
	})
}

func (s *TestSuite) TestTimeSlots() {
	router := newAPIRouter()
	start := time.Now().Add(30 * 24 * time.Hour).UTC()

	s.Run("operator schedules a slot", func() {
		w := s.request(router, "POST", "/api/v1/slots", s.OwnerToken, map[string]any{
			"tour":       s.PublishedTour.ID,
			"start_time": start.Format(config.TIME_PARSE_FORMAT),
			"end_time":   start.Add(2 * time.Hour).Format(config.TIME_PARSE_FORMAT),
		})
		assert.Equal(s.T(), 201, w.Code)
		rbytes, err := io.ReadAll(w.Body)
		assert.Nil(s.T(), err)
		assert.Equal(s.T(), int64(1), gjson.Get(string(rbytes), "count").Int())
	})

	s.Run("slots that end before they start are rejected", func() {
		w := s.request(router, "POST", "/api/v1/slots", s.OwnerToken, map[string]any{
			"tour":       s.PublishedTour.ID,
			"start_time": start.Add(2 * time.Hour).Format(config.TIME_PARSE_FORMAT),
			"end_time":   start.Format(config.TIME_PARSE_FORMAT),
		})
		assert.Equal(s.T(), 400, w.Code)
	})

	s.Run("past dates are rejected", func() {
		w := s.request(router, "POST", "/api/v1/slots", s.OwnerToken, map[string]any{
			"tour":       s.PublishedTour.ID,
			"start_time": time.Now().Add(-48 * time.Hour).UTC().Format(config.TIME_PARSE_FORMAT),
			"end_time":   time.Now().Add(-46 * time.Hour).UTC().Format(config.TIME_PARSE_FORMAT),
		})
		assert.Equal(s.T(), 400, w.Code)
	})

	s.Run("operator resizes a slot", func() {
		w := s.request(router, "PUT", fmt.Sprintf("/api/v1/slots/%d/capacity", s.Slot.ID), s.OwnerToken, map[string]any{
			"available_spots": 12,
		})
		assert.Equal(s.T(), 200, w.Code)
	})
}

func (s *TestSuite) TestBookingViews() {
	router := newAPIRouter()

	booking := models.Booking{
		TimeSlotID:   s.Slot.ID,
		TourID:       s.PublishedTour.ID,
		UserID:       s.Customer.ID,
		Participants: 2,
		TotalAmount:  240,
		Currency:     "usd",
		Status:       types.BOOKING_CONFIRMED,
		Payment:      types.PAYMENT_PAID,
	}
	assert.Nil(s.T(), dbi.Create(&booking).Error)

	s.Run("customers list their own bookings", func() {
		w := s.request(router, "GET", "/api/v1/bookings", s.CustomerToken, nil)
		assert.Equal(s.T(), 200, w.Code)
		rbytes, err := io.ReadAll(w.Body)
		assert.Nil(s.T(), err)
		assert.Greater(s.T(), gjson.Get(string(rbytes), "count").Int(), int64(0))
	})

	s.Run("tour operator can view the booking", func() {
		w := s.request(router, "GET", fmt.Sprintf("/api/v1/bookings/%d", booking.ID), s.OwnerToken, nil)
		assert.Equal(s.T(), 200, w.Code)
	})

	s.Run("strangers cannot view the booking", func() {
		stranger := models.User{Email: "stranger@example.com", Name: "Stranger"}
		assert.Nil(s.T(), dbi.Create(&stranger).Error)
		token, err := generateJWT(&stranger)
		assert.Nil(s.T(), err)

		w := s.request(router, "GET", fmt.Sprintf("/api/v1/bookings/%d", booking.ID), token, nil)
		assert.Equal(s.T(), 403, w.Code)
	})

	s.Run("pending bookings get a checkout url", func() {
		lib.NewPaymentsAPI(stubPayments{})
		pending := models.Booking{
			TimeSlotID:   s.Slot.ID,
			TourID:       s.PublishedTour.ID,
			UserID:       s.Customer.ID,
			Participants: 1,
			TotalAmount:  120,
			Currency:     "usd",
			Status:       types.BOOKING_PENDING,
			Payment:      types.PAYMENT_PENDING,
		}
		assert.Nil(s.T(), dbi.Create(&pending).Error)

		w := s.request(router, "POST", fmt.Sprintf("/api/v1/bookings/%d/pay", pending.ID), s.CustomerToken, nil)
		assert.Equal(s.T(), 200, w.Code)
		rbytes, err := io.ReadAll(w.Body)
		assert.Nil(s.T(), err)
		assert.NotEmpty(s.T(), gjson.Get(string(rbytes), "url").String())
	})

	s.Run("paid bookings cannot start another payment", func() {
		lib.NewPaymentsAPI(stubPayments{})
		w := s.request(router, "POST", fmt.Sprintf("/api/v1/bookings/%d/pay", booking.ID), s.CustomerToken, nil)
		assert.Equal(s.T(), 409, w.Code)
	})

	s.Run("refund preview quotes a full refund two weeks out", func() {
		w := s.request(router, "GET", fmt.Sprintf("/api/v1/bookings/%d/refund-preview", booking.ID), s.CustomerToken, nil)
		assert.Equal(s.T(), 200, w.Code)
		rbytes, err := io.ReadAll(w.Body)
		assert.Nil(s.T(), err)
		sjson := string(rbytes)
		assert.True(s.T(), gjson.Get(sjson, "cancellable").Bool())
		assert.Equal(s.T(), float64(240), gjson.Get(sjson, "quote.refundAmount").Float())
	})
}

func TestRunner(t *testing.T) {
	suite.Run(t, new(TestSuite))
}
