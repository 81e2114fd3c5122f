package forward

import (
	"context"
	"fmt"
	"strings"

	"github.com/rekkusuri/Discord-Chat-Forwarder/internal/export"
	"github.com/rekkusuri/Discord-Chat-Forwarder/internal/webhook"
)

// forwardOne delivers a single message: primary post, follow-up attachment
// batches, then trailing text parts as chained replies. It returns the
// primary post's destination id. Follow-up failures after a successful
// primary post surface as ErrPartialDelivery with the destination id intact.
func (f *Forwarder) forwardOne(ctx context.Context, m *export.Message, idx map[string]export.ReplyPreview) (string, error) {
	header, ref := f.resolveReply(m, idx)

	segments := chunkText(strings.TrimSpace(header+m.Body), f.opts.SegmentLimit)

	files, linkOnly := f.resolveAttachments(ctx, m)

	content := segments[0]
	if len(linkOnly) > 0 {
		var b strings.Builder
		b.WriteString(content)
		for _, u := range linkOnly {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString("[Attachment too large] ")
			b.WriteString(u)
		}
		content = b.String()
	}

	if strings.TrimSpace(content) == "" && len(segments) == 1 &&
		len(m.Embeds) == 0 && len(files) == 0 && len(linkOnly) == 0 {
		content = "[no text]"
	}

	primary := webhook.Payload{
		Content:          content,
		Username:         m.AuthorName,
		AvatarURL:        m.AuthorAvatarURL,
		MessageReference: ref,
		Embeds:           m.Embeds,
	}

	firstBatch := files
	if len(firstBatch) > f.opts.MaxFilesPerPost {
		firstBatch = files[:f.opts.MaxFilesPerPost]
	}

	res, err := f.poster.Post(ctx, primary, firstBatch)
	if err != nil {
		return "", fmt.Errorf("primary post: %w", err)
	}
	if !res.OK() {
		return "", fmt.Errorf("primary post: status %d: %s", res.StatusCode, excerpt(res.Body))
	}
	destID := res.MessageID

	var partialErr error

	// Remaining attachment batches thread back to the primary post.
	if len(files) > f.opts.MaxFilesPerPost {
		remaining := files[f.opts.MaxFilesPerPost:]
		total := (len(remaining) + f.opts.MaxFilesPerPost - 1) / f.opts.MaxFilesPerPost
		for batchIdx := 1; len(remaining) > 0; batchIdx++ {
			batch := remaining
			if len(batch) > f.opts.MaxFilesPerPost {
				batch = remaining[:f.opts.MaxFilesPerPost]
			}
			remaining = remaining[len(batch):]

			follow := webhook.Payload{
				Content:   fmt.Sprintf("(attachment batch %d/%d) from original message %s", batchIdx, total, m.ID),
				Username:  m.AuthorName,
				AvatarURL: m.AuthorAvatarURL,
			}
			if destID != "" {
				follow.MessageReference = &webhook.MessageReference{MessageID: destID}
			}
			if err := f.postFollowUp(ctx, follow, batch); err != nil && partialErr == nil {
				partialErr = fmt.Errorf("attachment batch %d: %w", batchIdx, err)
			}
		}
	}

	// Trailing text parts chain off whichever post came last.
	prev := destID
	for i, seg := range segments[1:] {
		part := i + 2
		extra := webhook.Payload{
			Content:   fmt.Sprintf("%s (part %d)", seg, part),
			Username:  m.AuthorName,
			AvatarURL: m.AuthorAvatarURL,
		}
		if prev != "" {
			extra.MessageReference = &webhook.MessageReference{MessageID: prev}
		}
		res, err := f.poster.Post(ctx, extra, nil)
		switch {
		case err != nil:
			if partialErr == nil {
				partialErr = fmt.Errorf("text part %d: %w", part, err)
			}
		case !res.OK():
			if partialErr == nil {
				partialErr = fmt.Errorf("text part %d: status %d", part, res.StatusCode)
			}
		case res.MessageID != "":
			prev = res.MessageID
		}
	}

	if partialErr != nil {
		return destID, fmt.Errorf("%w: %v", ErrPartialDelivery, partialErr)
	}
	return destID, nil
}

func (f *Forwarder) postFollowUp(ctx context.Context, payload webhook.Payload, files []webhook.File) error {
	res, err := f.poster.Post(ctx, payload, files)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("status %d", res.StatusCode)
	}
	return nil
}

// resolveReply picks exactly one reply strategy: a native thread reference
// when the identity map resolves the parent, otherwise a quote header from
// the export-time preview, the current batch, or a generic placeholder.
func (f *Forwarder) resolveReply(m *export.Message, idx map[string]export.ReplyPreview) (string, *webhook.MessageReference) {
	if !m.IsReply() {
		return "", nil
	}

	if destID, ok := f.identity.Resolve(m.ReplyToID); ok {
		return "", &webhook.MessageReference{MessageID: destID}
	}

	if m.ReplyPreview != nil {
		return f.quoteHeader(m.ReplyPreview.Author, m.ReplyPreview.Content, m.JumpURL), nil
	}
	if p, ok := idx[m.ReplyToID]; ok {
		return f.quoteHeader(p.Author, p.Content, m.JumpURL), nil
	}
	return "(replying to an earlier message)\n", nil
}

func (f *Forwarder) quoteHeader(author, content, jumpURL string) string {
	author = strings.TrimSpace(author)
	if author == "" {
		author = "unknown"
	}
	line := fmt.Sprintf("> Quote %s: \"%s\"", author, firstN(strings.TrimSpace(content), f.opts.QuotePreviewLen))
	if jumpURL != "" {
		line += "\n> " + jumpURL
	}
	return line + "\n\n"
}

// resolveAttachments classifies each attachment independently: re-upload
// candidate or link-only. Any probe or fetch problem demotes to link-only,
// never fails the message.
func (f *Forwarder) resolveAttachments(ctx context.Context, m *export.Message) ([]webhook.File, []string) {
	var files []webhook.File
	var linkOnly []string

	for _, att := range m.Attachments {
		size := att.SizeHint
		if size <= 0 {
			probed, err := f.fetcher.ProbeSize(ctx, att.URL)
			if err != nil {
				f.log.Debug().Err(err).Str("source_id", m.ID).Str("url", att.URL).Msg("size probe failed, linking instead")
				linkOnly = append(linkOnly, att.URL)
				continue
			}
			size = probed
		}
		if size > f.opts.AttachmentCap {
			linkOnly = append(linkOnly, att.URL)
			continue
		}

		data, err := f.fetcher.Fetch(ctx, att.URL)
		if err != nil {
			f.log.Debug().Err(err).Str("source_id", m.ID).Str("url", att.URL).Msg("fetch failed, linking instead")
			linkOnly = append(linkOnly, att.URL)
			continue
		}
		if int64(len(data)) > f.opts.AttachmentCap {
			linkOnly = append(linkOnly, att.URL)
			continue
		}

		files = append(files, webhook.File{
			Name:        att.Filename,
			ContentType: att.ContentType,
			Content:     data,
		})
	}

	return files, linkOnly
}

// chunkText splits s into rune-safe segments of at most limit runes,
// returning at least one (possibly empty) segment.
func chunkText(s string, limit int) []string {
	if s == "" {
		return []string{""}
	}
	r := []rune(s)
	var out []string
	for len(r) > limit {
		out = append(out, string(r[:limit]))
		r = r[limit:]
	}
	return append(out, string(r))
}

func firstN(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n]) + "…"
	}
	return s
}

func excerpt(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "…"
	}
	return string(b)
}
