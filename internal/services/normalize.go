package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-archive-bot/internal/repo"
	"github.com/tbourn/go-archive-bot/internal/urlnorm"
)

// NormalizeReport summarizes one URL maintenance pass.
type NormalizeReport struct {
	Scanned   int      `json:"scanned"`
	Rewritten int      `json:"rewritten"`
	Conflicts []string `json:"conflicts"` // archive ids whose canonical url is already taken
}

type urlTable struct {
	name   string
	scan   func(ctx context.Context, db *gorm.DB, after string, limit int) ([]repo.StoredURL, error)
	update func(ctx context.Context, db *gorm.DB, id, url string) error
}

var urlTables = []urlTable{
	{"video_archives", repo.ScanVideoURLs, repo.UpdateVideoURL},
	{"challenge_archives", repo.ScanChallengeURLs, repo.UpdateChallengeURL},
}

// NormalizeStoredURLs rewrites every stored archive url that is not in
// canonical form. Rows whose canonical url already belongs to another
// archive are left untouched and reported as conflicts. Running it twice
// rewrites nothing the second time.
func (s *ArchiveService) NormalizeStoredURLs(ctx context.Context, batchSize int) (NormalizeReport, error) {
	ctx, span := tracer.Start(ctx, "NormalizeStoredURLs")
	defer span.End()

	if batchSize <= 0 {
		batchSize = 500
	}
	rep := NormalizeReport{Conflicts: []string{}}
	for _, t := range urlTables {
		after := ""
		for {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			rows, err := t.scan(ctx, s.DB, after, batchSize)
			if err != nil {
				return rep, storeErr("scan "+t.name, err)
			}
			for _, r := range rows {
				rep.Scanned++
				canon := urlnorm.Normalize(r.URL)
				if canon == r.URL {
					continue
				}
				switch err := t.update(ctx, s.DB, r.ID, canon); {
				case err == nil:
					rep.Rewritten++
					log.Info().Str("table", t.name).Str("id", r.ID).Str("from", r.URL).Str("to", canon).Msg("url normalized")
				case errors.Is(err, repo.ErrDuplicate):
					rep.Conflicts = append(rep.Conflicts, r.ID)
					log.Warn().Str("table", t.name).Str("id", r.ID).Str("url", canon).Msg("canonical url already archived")
				default:
					return rep, storeErr("update "+t.name, err)
				}
			}
			if len(rows) < batchSize {
				break
			}
			after = rows[len(rows)-1].ID
		}
	}
	return rep, nil
}
