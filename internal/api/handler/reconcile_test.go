package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edvin/keyfleet/internal/reconcile"
)

type fakeReconciler struct {
	fleetReport  *reconcile.Report
	clientReport *reconcile.Report
	clientErr    error

	ranFleet   bool
	clientUUID string
}

func (f *fakeReconciler) RunOnce(ctx context.Context) *reconcile.Report {
	f.ranFleet = true
	return f.fleetReport
}

func (f *fakeReconciler) ReconcileClient(ctx context.Context, uuid string) (*reconcile.Report, error) {
	f.clientUUID = uuid
	return f.clientReport, f.clientErr
}

func TestReconcileTrigger_FleetWide(t *testing.T) {
	rec := &fakeReconciler{fleetReport: &reconcile.Report{Lost: 2, Adopted: 1}}
	h := NewReconcile(rec)

	w := httptest.NewRecorder()
	h.Trigger(w, newRequest(http.MethodPost, "/api/v1/reconcile", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, rec.ranFleet)

	body := decodeResponse(w)
	assert.EqualValues(t, 2, body["lost"])
	assert.EqualValues(t, 1, body["adopted"])
}

func TestReconcileTrigger_SingleClient(t *testing.T) {
	rec := &fakeReconciler{clientReport: &reconcile.Report{}}
	h := NewReconcile(rec)

	w := httptest.NewRecorder()
	h.Trigger(w, newRequest(http.MethodPost, "/api/v1/reconcile?client=u-1", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-1", rec.clientUUID)
	assert.False(t, rec.ranFleet)
}

func TestReconcileTrigger_UnknownClient(t *testing.T) {
	rec := &fakeReconciler{clientErr: reconcile.ErrUnknownClient}
	h := NewReconcile(rec)

	w := httptest.NewRecorder()
	h.Trigger(w, newRequest(http.MethodPost, "/api/v1/reconcile?client=u-missing", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
