package rewrite

import (
	"context"

	"go.uber.org/zap"

	"github.com/unimib-datAI/dave-anonymizer/internal/models"
)

// RewriteClusterTitles substitutes the display titles of one annotation
// set's clusters and propagates the substitution to each per-mention key.
// Titles are not embedded in the document text, so no offset translation
// is involved and the pre-pass can run (and be tested) on its own.
//
// Returns clusterIndex -> new title for every cluster whose title resolved.
// A cluster whose title fails to resolve keeps its current title, gets a
// diagnostic, and is absent from the map.
func (r *Rewriter) RewriteClusterTitles(ctx context.Context, setName string, clusters []models.Cluster, dir Direction, rep *Report) map[int]string {
	titles := make(map[int]string, len(clusters))
	for i := range clusters {
		c := &clusters[i]
		newTitle, err := r.resolveTitle(ctx, c.Title, dir)
		if err != nil {
			r.recordResolution(rep, setName, i, -1, -1, dir)
			r.logger.Warn("cluster title resolution failed",
				zap.String("set", setName),
				zap.Int("cluster", c.ID),
				zap.String("direction", string(dir)),
				zap.Error(err))
		} else {
			c.Title = newTitle
			titles[i] = newTitle
		}
		r.rewriteMentionKeys(ctx, setName, c, dir, rep)
	}
	return titles
}

func (r *Rewriter) resolveTitle(ctx context.Context, title string, dir Direction) (string, error) {
	if dir == DirectionAnonymize {
		return r.resolver.Encrypt(ctx, title)
	}
	return r.resolver.Decrypt(ctx, title)
}

// rewriteMentionKeys moves each mention between its plaintext and its key.
// Anonymizing encrypts the mention text into OriginalKey and blanks the
// plaintext; de-anonymizing decrypts OriginalKey back into Mention. A
// failed mention is left as is.
func (r *Rewriter) rewriteMentionKeys(ctx context.Context, setName string, c *models.Cluster, dir Direction, rep *Report) {
	for i := range c.Mentions {
		m := &c.Mentions[i]
		if dir == DirectionAnonymize {
			if m.Mention == "" {
				continue
			}
			key, err := r.resolver.Encrypt(ctx, m.Mention)
			if err != nil {
				r.recordResolution(rep, setName, m.ID, -1, -1, dir)
				continue
			}
			m.OriginalKey = key
			m.Mention = ""
			continue
		}
		if m.OriginalKey == "" {
			continue
		}
		text, err := r.resolver.Decrypt(ctx, m.OriginalKey)
		if err != nil {
			r.recordResolution(rep, setName, m.ID, -1, -1, dir)
			continue
		}
		m.Mention = text
	}
}
