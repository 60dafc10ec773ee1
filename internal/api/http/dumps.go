package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) text(c *gin.Context, out string, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	c.String(http.StatusOK, out)
}

// DumpStorage renders every stored form
func (h *Handlers) DumpStorage(c *gin.Context) {
	out, err := h.forms.DumpStorageFormInfos()
	h.text(c, out, err)
}

// DumpFormsByBundle renders the in-memory forms of a provider
func (h *Handlers) DumpFormsByBundle(c *gin.Context) {
	out, err := h.forms.DumpFormInfoByBundleName(c.Param("bundle"))
	h.text(c, out, err)
}

// DumpFormByID renders one form and its hosts
func (h *Handlers) DumpFormByID(c *gin.Context) {
	formID, err := formIDParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	out, err := h.forms.DumpFormInfoByFormID(formID)
	h.text(c, out, err)
}

// DumpFormTimer reports whether a form has a refresh timer
func (h *Handlers) DumpFormTimer(c *gin.Context) {
	formID, err := formIDParam(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.String(http.StatusOK, h.forms.DumpFormTimerByFormID(formID))
}

// DumpCache renders the form data cache
func (h *Handlers) DumpCache(c *gin.Context) {
	c.String(http.StatusOK, h.forms.DumpCache())
}

// DumpAbilities renders the ability records
func (h *Handlers) DumpAbilities(c *gin.Context) {
	h.dumpLines(c, h.abilities)
}

// DumpDataAbilities renders the loaded data abilities
func (h *Handlers) DumpDataAbilities(c *gin.Context) {
	h.dumpLines(c, h.dataAbilities)
}

func (h *Handlers) dumpLines(c *gin.Context, d StateDumper) {
	if d == nil {
		c.String(http.StatusOK, "")
		return
	}
	lines := d.DumpState()
	if len(lines) == 0 {
		c.String(http.StatusOK, "")
		return
	}
	c.String(http.StatusOK, strings.Join(lines, "\n")+"\n")
}
