package types

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type Validater interface {
	Validate() map[string]string
}

var validate = validator.New()

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func validateStruct(s any) map[string]string {
	if err := validate.Struct(s); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return map[string]string{"request": err.Error()}
		}
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}

type UpsertRequest struct {
	Documents []Document `json:"documents" validate:"required,min=1,dive"`
}

func (params *UpsertRequest) Validate() map[string]string {
	return validateStruct(params)
}

type UpsertResponse struct {
	IDs []string `json:"ids"`
}

type QueryRequest struct {
	Queries []Query `json:"queries" validate:"required,min=1,dive"`
	RepoURL string  `json:"repo_url,omitempty" validate:"omitempty,url"`
}

func (params *QueryRequest) Validate() map[string]string {
	return validateStruct(params)
}

type QueryResponse struct {
	Results []QueryResult `json:"results"`
}

type DeleteRequest struct {
	IDs       []string                `json:"ids,omitempty"`
	Filter    *DocumentMetadataFilter `json:"filter,omitempty"`
	DeleteAll bool                    `json:"delete_all,omitempty"`
}

func (params *DeleteRequest) Validate() map[string]string {
	if len(params.IDs) == 0 && params.Filter.IsEmpty() && !params.DeleteAll {
		return map[string]string{"request": "one of ids, filter, or delete_all is required"}
	}
	return nil
}

type DeleteResponse struct {
	Success bool `json:"success"`
}

type IndexRequest struct {
	RepoURL string `json:"repo_url" validate:"required,url"`
}

func (params *IndexRequest) Validate() map[string]string {
	return validateStruct(params)
}

type IndexResponse struct {
	Success   bool     `json:"success"`
	Documents int      `json:"documents"`
	Skipped   []string `json:"skipped,omitempty"`
	Error     string   `json:"error,omitempty"`
}
