package handlers

import (
	"html/template"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"tgflix/internal/middleware"
	"tgflix/internal/repositories"
	"tgflix/internal/utils"
)

var gatePage = template.Must(template.New("gate").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Human Verification</title>
{{if .SiteKey}}<script src="https://js.hcaptcha.com/1/api.js" async defer></script>{{end}}
<style>
body{font-family:system-ui,sans-serif;background:#111;color:#eee;display:flex;align-items:center;justify-content:center;min-height:100vh;margin:0}
.card{background:#1c1c1c;padding:32px;border-radius:12px;text-align:center;max-width:360px}
a.btn,button{display:inline-block;margin-top:20px;padding:12px 28px;background:#2a7ae2;color:#fff;border:0;border-radius:8px;text-decoration:none;font-size:16px;cursor:pointer}
</style>
</head>
<body>
<div class="card">
<h2>Human Verification</h2>
{{if .SiteKey}}
<form method="POST" action="{{.Action}}">
<div class="h-captcha" data-sitekey="{{.SiteKey}}"></div>
<button type="submit">Click Here to Proceed</button>
</form>
{{else}}
<p>Tap the button below to continue.</p>
<a class="btn" href="{{.Action}}">Click Here to Proceed</a>
{{end}}
</div>
</body>
</html>
`))

type gateView struct {
	Action  string
	SiteKey string
}

type GateDeps struct {
	Tickets repositories.TicketRepository
	Secret  []byte
	PassTTL time.Duration
	Captcha *utils.HCaptcha
	Clock   clockwork.Clock
	Log     *zap.Logger
}

// GateHandler — промежуточная страница между сокращателем и ботом.
type GateHandler struct {
	tickets repositories.TicketRepository
	secret  []byte
	passTTL time.Duration
	captcha *utils.HCaptcha
	clock   clockwork.Clock
	log     *zap.Logger
}

func NewGateHandler(d GateDeps) *GateHandler {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.PassTTL <= 0 {
		d.PassTTL = 5 * time.Minute
	}
	return &GateHandler{
		tickets: d.Tickets,
		secret:  d.Secret,
		passTTL: d.PassTTL,
		captcha: d.Captcha,
		clock:   d.Clock,
		log:     d.Log,
	}
}

// Now нужен middleware.RequirePass.
func (h *GateHandler) Now() time.Time { return h.clock.Now() }

// Secret — ключ подписи пропусков.
func (h *GateHandler) Secret() []byte { return h.secret }

// @Summary      Страница проверки
// @Description  Показывает страницу Human Verification для тикета
// @Tags         Gate
// @Produce      html
// @Param        id   query     string  true  "ID тикета"
// @Success      200  {string}  string
// @Failure      400  {string}  string
// @Failure      404  {string}  string
// @Router       /gate [get]
func (h *GateHandler) Page(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.String(http.StatusBadRequest, "Missing ticket id")
		return
	}
	t, err := h.tickets.Get(c.Request.Context(), id)
	if err != nil {
		h.log.Error("[gate][page] ticket lookup failed", zap.String("ticket", id), zap.Error(err))
		c.String(http.StatusInternalServerError, "Internal error")
		return
	}
	if t == nil {
		c.String(http.StatusNotFound, "Link expired or not found")
		return
	}

	view := gateView{Action: "/verify/" + url.PathEscape(id)}
	if h.captcha.Enabled() {
		view.SiteKey = h.captcha.SiteKey
	} else {
		pass, err := middleware.IssuePass(h.secret, id, h.passTTL, h.clock.Now())
		if err != nil {
			h.log.Error("[gate][page] issue pass failed", zap.Error(err))
			c.String(http.StatusInternalServerError, "Internal error")
			return
		}
		view.Action += "?pass=" + url.QueryEscape(pass)
	}
	c.Header("Cache-Control", "no-store")
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := gatePage.Execute(c.Writer, view); err != nil {
		h.log.Warn("[gate][page] render failed", zap.Error(err))
	}
}

// KnownTicket отвечает 404 на неизвестный или истёкший тикет раньше проверки пропуска.
func (h *GateHandler) KnownTicket(c *gin.Context) {
	id := c.Param("id")
	t, err := h.tickets.Get(c.Request.Context(), id)
	if err != nil {
		h.log.Error("[gate][verify] ticket lookup failed", zap.String("ticket", id), zap.Error(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if t == nil {
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.String(http.StatusNotFound, "Link expired or not found")
		c.Abort()
		return
	}
	c.Next()
}

// @Summary      Переход по пропуску
// @Description  Проверяет пропуск, гасит тикет и перенаправляет в бота
// @Tags         Gate
// @Param        id    path  string  true  "ID тикета"
// @Param        pass  query string  true  "Пропуск"
// @Success      302
// @Failure      403  {object}  map[string]string
// @Failure      404  {string}  string
// @Router       /verify/{id} [get]
func (h *GateHandler) Redirect(c *gin.Context) {
	h.consume(c)
}

// @Summary      Переход через капчу
// @Description  Проверяет h-captcha-response, гасит тикет и перенаправляет в бота
// @Tags         Gate
// @Accept       x-www-form-urlencoded
// @Param        id                  path      string  true  "ID тикета"
// @Param        h-captcha-response  formData  string  true  "Ответ hCaptcha"
// @Success      302
// @Failure      403  {object}  map[string]string
// @Failure      404  {string}  string
// @Router       /verify/{id} [post]
func (h *GateHandler) Captcha(c *gin.Context) {
	if !h.captcha.Enabled() {
		c.JSON(http.StatusForbidden, gin.H{"error": "Captcha is disabled"})
		return
	}
	ok, err := h.captcha.Verify(c.Request.Context(), c.PostForm("h-captcha-response"), c.ClientIP())
	if err != nil {
		h.log.Warn("[gate][captcha] verify failed", zap.Error(err))
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "Captcha verification failed"})
		return
	}
	h.consume(c)
}

func (h *GateHandler) consume(c *gin.Context) {
	id := c.Param("id")
	t, err := h.tickets.Consume(c.Request.Context(), id)
	if err != nil {
		h.log.Error("[gate][verify] consume failed", zap.String("ticket", id), zap.Error(err))
		c.String(http.StatusInternalServerError, "Internal error")
		return
	}
	if t == nil {
		c.String(http.StatusNotFound, "Link expired or not found")
		return
	}
	h.log.Info("[gate][verify] ticket redeemed", zap.String("ticket", id), zap.Int64("user", t.OwnerUserID), zap.String("kind", string(t.Kind)))
	c.Header("Cache-Control", "no-store")
	c.Redirect(http.StatusFound, t.RedirectURL)
}

// @Summary      Проверка живости
// @Tags         Gate
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /healthz [get]
func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
