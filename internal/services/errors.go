// Package services defines the business logic for archiving submissions.
// This file maps persistence failures onto the domain error taxonomy so that
// handlers only ever see *domain.Error values.
package services

import (
	"errors"

	"github.com/tbourn/go-archive-bot/internal/domain"
	"github.com/tbourn/go-archive-bot/internal/repo"
)

// storeErr classifies an error from a persistence step. Unique-index
// conflicts on the archive url mean another submission won the race.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, repo.ErrDuplicate) {
		return domain.WrapError(domain.CodeDuplicatedURL, "url already archived", err)
	}
	return domain.WrapError(domain.CodeUnexpected, op, err)
}
