package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"gownqueue/internal/blob"
	"gownqueue/internal/replay"
	"gownqueue/pkg/domain"
)

type handlers struct {
	svc Service
}

type replayResponse struct {
	Report    replay.Report `json:"report"`
	Completed bool          `json:"completed"`
}

func replayStatus(completed bool) int {
	if completed {
		return http.StatusOK
	}
	return http.StatusAccepted
}

func (h handlers) status(c echo.Context) error {
	st, err := h.svc.EffectiveStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h handlers) clearErrors(c echo.Context) error {
	n, err := h.svc.ClearErrored(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"cleared": n})
}

func (h handlers) enqueue(c echo.Context) error {
	var req domain.EnqueueRequest
	if err := c.Bind(&req); err != nil {
		return errors.Wrap(err, "binding operation request")
	}
	id, err := h.svc.Enqueue(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, echo.Map{"id": id})
}

func (h handlers) list(c echo.Context) error {
	state := domain.OperationState(c.QueryParam("state"))
	switch state {
	case "", domain.StatePending, domain.StateApplying, domain.StateErrored:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown state "+string(state))
	}
	ops := h.svc.Operations(c.QueryParam("entity_id"), state)
	if ops == nil {
		ops = []domain.Operation{}
	}
	return c.JSON(http.StatusOK, ops)
}

func (h handlers) retry(c echo.Context) error {
	op, err := h.svc.Retry(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, op)
}

func (h handlers) discard(c echo.Context) error {
	op, err := h.svc.Discard(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, op)
}

func (h handlers) network(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Network())
}

func (h handlers) setNetwork(c echo.Context) error {
	var body struct {
		Online *bool `json:"online"`
	}
	if err := c.Bind(&body); err != nil {
		return errors.Wrap(err, "binding network state")
	}
	if body.Online == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "online is required")
	}
	changed := h.svc.SetOnline(*body.Online)
	return c.JSON(http.StatusOK, echo.Map{"changed": changed, "state": h.svc.Network()})
}

func (h handlers) replay(c echo.Context) error {
	var wait time.Duration
	if raw := c.QueryParam("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "wait must be a positive duration")
		}
		wait = d
	}
	report, completed, err := h.svc.Replay(c.Request().Context(), wait)
	if err != nil {
		return err
	}
	return c.JSON(replayStatus(completed), replayResponse{Report: report, Completed: completed})
}

func (h handlers) returnsMode(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"active": h.svc.ReturnsMode()})
}

func (h handlers) enterReturnsMode(c echo.Context) error {
	already := h.svc.EnterReturnsMode()
	return c.JSON(http.StatusOK, echo.Map{"active": true, "already_active": already})
}

func (h handlers) exitReturnsMode(c echo.Context) error {
	report, completed, err := h.svc.ExitReturnsMode(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(replayStatus(completed), replayResponse{Report: report, Completed: completed})
}

func (h handlers) export(c echo.Context) error {
	res, err := h.svc.Export(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (h handlers) exports(c echo.Context) error {
	infos, err := h.svc.Exports(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, infos)
}

func (h handlers) downloadExport(c echo.Context) error {
	info, rc, err := h.svc.OpenExport(c.Request().Context(), c.Param("name"))
	if err != nil {
		return err
	}
	defer rc.Close()
	setBlobHeaders(c, info)
	return c.Stream(http.StatusOK, contentType(info), rc)
}

func (h handlers) statExport(c echo.Context) error {
	info, err := h.svc.StatExport(c.Request().Context(), c.Param("name"))
	if err != nil {
		return err
	}
	setBlobHeaders(c, info)
	c.Response().Header().Set(echo.HeaderContentType, contentType(info))
	return c.NoContent(http.StatusOK)
}

func (h handlers) deleteExport(c echo.Context) error {
	if err := h.svc.DeleteExport(c.Request().Context(), c.Param("name")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func setBlobHeaders(c echo.Context, info blob.Info) {
	hdr := c.Response().Header()
	hdr.Set(echo.HeaderContentLength, strconv.FormatInt(info.Size, 10))
	if info.ETag != "" {
		hdr.Set("ETag", info.ETag)
	}
	if !info.LastModified.IsZero() {
		hdr.Set(echo.HeaderLastModified, info.LastModified.UTC().Format(http.TimeFormat))
	}
}

func contentType(info blob.Info) string {
	if info.ContentType == "" {
		return echo.MIMEOctetStream
	}
	return info.ContentType
}
