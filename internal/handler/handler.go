// Package handler holds the helpers shared by the resource handlers.
package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/painmgmt-api/internal/middleware"
	"github.com/jwalitptl/painmgmt-api/internal/model"
	"github.com/jwalitptl/painmgmt-api/pkg/errors"
	"github.com/jwalitptl/painmgmt-api/pkg/httputil"
)

// Registrar is implemented by every resource handler.
type Registrar interface {
	RegisterRoutes(*gin.RouterGroup)
}

func UUIDParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, errors.Validation("invalid %s", name)
	}
	return id, nil
}

// Actor returns the authenticated caller.
func Actor(c *gin.Context) (model.Actor, error) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return model.Actor{}, errors.Unauthorized(nil)
	}
	return actor, nil
}

func Bind(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return errors.Validation("invalid request body: %v", err)
	}
	return nil
}

// BindOptional is Bind for endpoints whose body may be omitted.
func BindOptional(c *gin.Context, dst interface{}) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return Bind(c, dst)
}

// Target resolves the :id path parameter and the caller, writing the error
// response itself when either is missing.
func Target(c *gin.Context) (uuid.UUID, model.Actor, bool) {
	id, err := UUIDParam(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return uuid.Nil, model.Actor{}, false
	}
	actor, err := Actor(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return uuid.Nil, model.Actor{}, false
	}
	return id, actor, true
}
