package handler

import (
	"math/big"
	"net/http"
	"strings"
	"testing"

	"github.com/eidos-exchange/eidos-lottery/internal/config"
	"github.com/eidos-exchange/eidos-lottery/internal/model"
	"github.com/eidos-exchange/eidos-lottery/internal/repository"
	"github.com/eidos-exchange/eidos-lottery/internal/service"
	"github.com/eidos-exchange/eidos-lottery/pkg/errors"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

const player = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

func setupRoundHandler(role string) (*gin.Engine, *MockRoundService, *MockRemoteEntryService) {
	rounds := new(MockRoundService)
	remote := new(MockRemoteEntryService)
	h := NewRoundHandler(rounds, remote, role)

	r := gin.New()
	r.GET("/rounds", h.ListRounds)
	r.GET("/rounds/current", h.GetCurrentRound)
	r.GET("/rounds/:id", h.GetRound)
	r.POST("/entries", h.Enter)
	r.GET("/pending-entries", h.ListPendingEntries)
	return r, rounds, remote
}

func TestGetCurrentRound_Success(t *testing.T) {
	r, rounds, _ := setupRoundHandler(config.RoleMain)
	rounds.On("CurrentRound", mock.Anything).Return(&service.RoundSnapshot{
		Round:             &model.Round{RoundID: 3},
		LocalContribution: big.NewInt(0),
	}, nil)

	w, resp := doJSON(t, r, http.MethodGet, "/rounds/current", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, CodeOK, resp.Code)
	rounds.AssertExpectations(t)
}

func TestGetRound(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		setup  func(m *MockRoundService)
		status int
		code   string
	}{
		{
			name:   "invalid id",
			path:   "/rounds/abc",
			status: http.StatusBadRequest,
			code:   errors.ErrInvalidRequest.Code,
		},
		{
			name:   "zero id",
			path:   "/rounds/0",
			status: http.StatusBadRequest,
			code:   errors.ErrInvalidRequest.Code,
		},
		{
			name: "not found",
			path: "/rounds/9",
			setup: func(m *MockRoundService) {
				m.On("Snapshot", mock.Anything, uint64(9)).Return(nil, errors.ErrRoundNotFound)
			},
			status: http.StatusNotFound,
			code:   errors.ErrRoundNotFound.Code,
		},
		{
			name: "found",
			path: "/rounds/2",
			setup: func(m *MockRoundService) {
				m.On("Snapshot", mock.Anything, uint64(2)).Return(&service.RoundSnapshot{Round: &model.Round{RoundID: 2}}, nil)
			},
			status: http.StatusOK,
			code:   CodeOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, rounds, _ := setupRoundHandler(config.RoleMain)
			if tt.setup != nil {
				tt.setup(rounds)
			}
			w, resp := doJSON(t, r, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, resp.Code)
			rounds.AssertExpectations(t)
		})
	}
}

func TestListRounds_Pagination(t *testing.T) {
	r, rounds, _ := setupRoundHandler(config.RoleMain)
	rounds.On("ListRounds", mock.Anything, mock.MatchedBy(func(p *repository.Pagination) bool {
		return p.Page == 2 && p.PageSize == 100
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*repository.Pagination).Total = 150
	}).Return([]*model.Round{{RoundID: 1}}, nil)

	w, resp := doJSON(t, r, http.MethodGet, "/rounds?page=2&page_size=500", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(150), data["total"])
	assert.Equal(t, float64(100), data["page_size"])
}

func TestEnter_MainChain(t *testing.T) {
	r, rounds, remote := setupRoundHandler(config.RoleMain)
	rounds.On("Enter", mock.Anything, mock.MatchedBy(func(req *service.EnterRequest) bool {
		return req.Player == player &&
			req.Method == model.PaymentMethodNative &&
			req.NativeValue.Cmp(big.NewInt(1500)) == 0
	})).Return(&service.EnterResult{RoundID: 1, Position: 4}, nil)

	w, resp := doJSON(t, r, http.MethodPost, "/entries", map[string]interface{}{
		"player":       player,
		"method":       "native",
		"native_value": "1500",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, CodeOK, resp.Code)
	rounds.AssertExpectations(t)
	remote.AssertNotCalled(t, "EnterRemote", mock.Anything, mock.Anything)
}

func TestEnter_DepositTx(t *testing.T) {
	r, rounds, _ := setupRoundHandler(config.RoleMain)
	depositTx := "0x" + strings.Repeat("ab", 32)
	rounds.On("Enter", mock.Anything, mock.MatchedBy(func(req *service.EnterRequest) bool {
		return req.DepositTx == depositTx && req.NativeValue.Sign() == 0
	})).Return(&service.EnterResult{RoundID: 1, Position: 1}, nil)

	w, _ := doJSON(t, r, http.MethodPost, "/entries", map[string]interface{}{
		"player":     player,
		"method":     "native",
		"deposit_tx": depositTx,
	})
	assert.Equal(t, http.StatusOK, w.Code)
	rounds.AssertExpectations(t)
}

func TestEnter_SatelliteRoutesRemote(t *testing.T) {
	r, rounds, remote := setupRoundHandler(config.RoleSatellite)
	remote.On("EnterRemote", mock.Anything, mock.MatchedBy(func(req *service.EnterRequest) bool {
		return req.Method == model.PaymentMethodToken && req.NativeValue.Sign() == 0
	})).Return(&service.RemoteEntryResult{RoundID: 1, MessageID: "m-1"}, nil)

	w, _ := doJSON(t, r, http.MethodPost, "/entries", map[string]interface{}{"player": player})
	assert.Equal(t, http.StatusOK, w.Code)
	remote.AssertExpectations(t)
	rounds.AssertNotCalled(t, "Enter", mock.Anything, mock.Anything)
}

func TestEnter_Validation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing player", map[string]interface{}{"method": "TOKEN"}},
		{"bad method", map[string]interface{}{"player": player, "method": "CARD"}},
		{"bad value", map[string]interface{}{"player": player, "method": "NATIVE", "native_value": "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, rounds, _ := setupRoundHandler(config.RoleMain)
			w, resp := doJSON(t, r, http.MethodPost, "/entries", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, errors.ErrInvalidRequest.Code, resp.Code)
			rounds.AssertNotCalled(t, "Enter", mock.Anything, mock.Anything)
		})
	}
}

func TestEnter_ServiceErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"duplicate", errors.ErrDuplicateEntry, http.StatusConflict},
		{"paused", errors.ErrEntriesPaused, http.StatusServiceUnavailable},
		{"price unavailable", errors.ErrPriceUnavailable, http.StatusServiceUnavailable},
		{"unclassified", assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, rounds, _ := setupRoundHandler(config.RoleMain)
			rounds.On("Enter", mock.Anything, mock.Anything).Return(nil, tt.err)

			w, resp := doJSON(t, r, http.MethodPost, "/entries", map[string]interface{}{"player": player})
			assert.Equal(t, tt.status, w.Code)
			assert.NotEqual(t, CodeOK, resp.Code)
			assert.NotContains(t, resp.Message, assert.AnError.Error())
		})
	}
}

func TestListPendingEntries(t *testing.T) {
	r, _, remote := setupRoundHandler(config.RoleSatellite)
	remote.On("PendingEntries", mock.Anything, mock.Anything).Return([]*model.PendingEntry{{Player: player}}, nil)

	w, resp := doJSON(t, r, http.MethodGet, "/pending-entries", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, CodeOK, resp.Code)
	remote.AssertExpectations(t)
}
