package aether

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/eringen/aether/activity"
	"github.com/eringen/aether/imagegen"
)

// imageResponse is the JSON body of the image panel endpoints.
type imageResponse struct {
	imagegen.PanelState
	Unlocked bool `json:"unlocked"`
	Cooldown int  `json:"cooldown"`
}

func (a *App) imageGate(c echo.Context) *imagegen.Gate {
	return imagegen.NewGate(sessionCodeStore{c}, a.Config.Image.AccessCode)
}

func (a *App) imageState(c echo.Context, sid string) imageResponse {
	return imageResponse{
		PanelState: a.panels.Get(sid).Snapshot(),
		Unlocked:   a.imageGate(c).Unlocked(),
		Cooldown:   seconds(a.cooldowns.Remaining(imageKey(sid))),
	}
}

func (a *App) handleImageUnlock(c echo.Context) error {
	sid, err := visitorID(c)
	if err != nil {
		return err
	}
	if err := a.imageGate(c).Unlock(c.FormValue("code")); err != nil {
		if errors.Is(err, imagegen.ErrInvalidCode) {
			return RenderStatus(c, http.StatusUnauthorized, a.Views.ImagePanel(a.imageData(c, sid, "That access code is not valid.")))
		}
		return err
	}
	a.record(c, activity.KindGateUnlocked, "")
	return Render(c, a.Views.ImagePanel(a.imageData(c, sid, "")))
}

func (a *App) handleImageLock(c echo.Context) error {
	sid, err := visitorID(c)
	if err != nil {
		return err
	}
	if err := a.imageGate(c).Lock(); err != nil {
		return err
	}
	return Render(c, a.Views.ImagePanel(a.imageData(c, sid, "")))
}

// bindParams reads generation parameters from a form or JSON body. Blank
// numeric fields fall back to the defaults applied by Normalize.
func bindParams(c echo.Context) (imagegen.Params, error) {
	var p imagegen.Params
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		if err := json.NewDecoder(c.Request().Body).Decode(&p); err != nil {
			return p, err
		}
		return p, nil
	}

	p.Prompt = c.FormValue("prompt")
	p.NegativePrompt = c.FormValue("negative_prompt")
	p.Model = c.FormValue("model")
	var err error
	atoi := func(name string) int {
		v := strings.TrimSpace(c.FormValue(name))
		if v == "" || err != nil {
			return 0
		}
		n, e := strconv.Atoi(v)
		if e != nil {
			err = errors.New("invalid " + name)
		}
		return n
	}
	p.Width = atoi("width")
	p.Height = atoi("height")
	p.Steps = atoi("steps")
	if v := strings.TrimSpace(c.FormValue("guidance")); v != "" {
		g, e := strconv.ParseFloat(v, 64)
		if e != nil {
			return p, errors.New("invalid guidance")
		}
		p.Guidance = g
	}
	if v := strings.TrimSpace(c.FormValue("seed")); v != "" {
		s, e := strconv.ParseInt(v, 10, 64)
		if e != nil {
			return p, errors.New("invalid seed")
		}
		p.Seed = &s
	}
	return p, err
}

func (a *App) handleImageGenerate(c echo.Context) error {
	sid, err := visitorID(c)
	if err != nil {
		return err
	}
	gate := a.imageGate(c)
	code := gate.Code()
	if code == "" {
		return c.JSON(http.StatusUnauthorized, apiError{Error: "access code required", Kind: imagegen.KindUnauthorized.String()})
	}

	p, err := bindParams(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, apiError{Error: err.Error()})
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, apiError{Error: strings.TrimPrefix(err.Error(), "imagegen: ")})
	}
	if left := a.cooldowns.Remaining(imageKey(sid)); left > 0 {
		return tooManyRequests(c, imagegen.ErrRateLimited.Message(), seconds(left))
	}

	panel := a.panels.Get(sid)
	if !panel.Begin() {
		return c.JSON(http.StatusConflict, apiError{Error: "a render is already in progress"})
	}
	defer panel.End()
	status, err := a.generate(c, sid, panel, p, code)
	if err != nil {
		return err
	}

	st := a.imageState(c, sid)
	if status == http.StatusTooManyRequests {
		c.Response().Header().Set("Retry-After", strconv.Itoa(st.Cooldown))
	}
	return c.JSON(status, st)
}

// generate runs one render for the panel and reports the HTTP status to
// answer with. Upstream failures are recorded on the panel, not returned.
func (a *App) generate(c echo.Context, sid string, panel *imagegen.Panel, p imagegen.Params, code string) (int, error) {
	ctx := c.Request().Context()
	p.Password = code
	res, err := a.Images.Generate(ctx, p)
	if err != nil {
		var ge *imagegen.Error
		if !errors.As(err, &ge) {
			ge = &imagegen.Error{Kind: imagegen.KindNetwork, Err: err}
		}
		panel.Fail(ge)
		switch ge.Kind {
		case imagegen.KindUnauthorized:
			if err := a.imageGate(c).Lock(); err != nil {
				return 0, err
			}
			a.record(c, activity.KindImageDenied, p.Model)
			return http.StatusForbidden, nil
		case imagegen.KindRateLimited:
			a.cooldowns.Start(imageKey(sid), a.Config.Image.Cooldown)
			a.record(c, activity.KindImageRateLimited, p.Model)
			return http.StatusTooManyRequests, nil
		default:
			a.record(c, activity.KindImageFailed, p.Model)
			return http.StatusBadGateway, nil
		}
	}

	thumb, err := makeThumbnail(res.Data)
	if err != nil {
		a.Log.Warn("thumbnail failed, serving full image", zap.Error(err))
	}
	params, err := json.Marshal(res.Params)
	if err != nil {
		return 0, err
	}
	id := uuid.NewString()
	now := a.now()
	if err := a.Store.SaveImage(ctx, StoredImage{
		ID:          id,
		SessionID:   sid,
		Prompt:      res.Params.Prompt,
		ParamsJSON:  string(params),
		ContentType: res.ContentType,
		Data:        res.Data,
		Thumb:       thumb,
		CreatedAt:   now,
	}); err != nil {
		return 0, err
	}

	evicted := panel.Record(imagegen.Record{
		ID:        id,
		URL:       "/api/image/" + id,
		ThumbURL:  "/api/image/" + id + "/thumb",
		Prompt:    res.Params.Prompt,
		Params:    res.Params,
		Timestamp: now,
	})
	if len(evicted) > 0 {
		ids := make([]string, len(evicted))
		for i, r := range evicted {
			ids[i] = r.ID
		}
		if err := a.Store.DeleteImages(ctx, ids...); err != nil {
			a.Log.Warn("delete evicted images", zap.Strings("ids", ids), zap.Error(err))
		}
	}
	a.record(c, activity.KindImageGenerated, res.Params.Model)
	return http.StatusOK, nil
}

func (a *App) handleImageSelect(c echo.Context) error {
	sid, err := visitorID(c)
	if err != nil {
		return err
	}
	if !a.panels.Get(sid).Select(c.Param("id")) {
		return c.JSON(http.StatusNotFound, apiError{Error: "image not found"})
	}
	return c.JSON(http.StatusOK, a.imageState(c, sid))
}

func (a *App) handleImageState(c echo.Context) error {
	sid, err := visitorID(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a.imageState(c, sid))
}

func (a *App) loadImage(c echo.Context) (StoredImage, error) {
	sid, err := visitorID(c)
	if err != nil {
		return StoredImage{}, err
	}
	id := c.Param("id")
	if panel, ok := a.panels.Peek(sid); !ok || !panel.Has(id) {
		return StoredImage{}, echo.NewHTTPError(http.StatusNotFound, "image not found")
	}
	img, err := a.Store.GetImage(c.Request().Context(), sid, id)
	if errors.Is(err, ErrNotFound) {
		return StoredImage{}, echo.NewHTTPError(http.StatusNotFound, "image not found")
	}
	return img, err
}

func (a *App) handleImageFile(c echo.Context) error {
	img, err := a.loadImage(c)
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, img.ContentType, img.Data)
}

func (a *App) handleImageThumb(c echo.Context) error {
	img, err := a.loadImage(c)
	if err != nil {
		return err
	}
	if len(img.Thumb) == 0 {
		return c.Blob(http.StatusOK, img.ContentType, img.Data)
	}
	return c.Blob(http.StatusOK, "image/jpeg", img.Thumb)
}
