package integration

import (
	"net/http"
	"sync"
	"testing"

	"pos-settlement/internal/core/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConcurrentConfirmations opens several sessions for the same order and
// confirms them all at once. Exactly one settlement may commit; inventory is
// decremented once.
func TestConcurrentConfirmations(t *testing.T) {
	app := newTestApp(t)

	const sessions = 8
	ids := make([]string, sessions)
	for i := range ids {
		view := app.open(t, "ord-1")
		ids[i] = view.SessionID.String()
		app.apply(t, http.MethodPost, "/sessions/"+ids[i]+"/slots/foreign_cash/select", map[string]bool{"selected": true})
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		codes     = map[string]int{}
	)
	start := make(chan struct{})
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			status, env := app.call(t, http.MethodPost, "/sessions/"+id+"/confirm", nil)
			mu.Lock()
			defer mu.Unlock()
			if status == http.StatusOK {
				succeeded++
				return
			}
			assert.Equal(t, http.StatusConflict, status)
			codes[env.ErrorCode]++
		}(id)
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, succeeded, "exactly one confirmation commits, got codes %v", codes)
	for code := range codes {
		assert.Contains(t, []string{"SETTLE_001", "TX_001"}, code)
	}
	assert.True(t, app.store.order("ord-1").IsPaid())
	assert.Equal(t, 8, app.store.product("prod-a").Stock)
	assert.Equal(t, 0, app.store.product("prod-b").Stock)
}

func TestConcurrentEditsOnOneSession(t *testing.T) {
	app := newTestApp(t)
	view := app.open(t, "ord-1")
	sid := view.SessionID.String()
	app.apply(t, http.MethodPost, "/sessions/"+sid+"/slots/foreign_cash/select", map[string]bool{"selected": true})
	app.apply(t, http.MethodPost, "/sessions/"+sid+"/slots/foreign_online/select", map[string]bool{"selected": true})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _ := app.call(t, http.MethodPut, "/sessions/"+sid+"/slots/foreign_cash/amount", map[string]string{"amount": "25"})
			assert.Equal(t, http.StatusOK, status)
		}()
	}
	wg.Wait()

	final := app.apply(t, http.MethodPost, "/sessions/"+sid+"/rate/refresh", nil)
	assert.True(t, final.Totals.Remaining.IsZero())
	assert.True(t, slot(final, domain.MethodForeignOnline).Amount.Equal(decimal.NewFromInt(75)))
}
