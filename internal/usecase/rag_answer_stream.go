package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const streamHeartbeatInterval = 15 * time.Second

// Stream generates a RAG answer as an event stream suitable for SSE delivery.
// The answer field is parsed out of the model's JSON output incrementally so
// clients see text as soon as the model produces it.
func (u *answerWithRAGUsecase) Stream(ctx context.Context, input AnswerWithRAGInput) <-chan StreamEvent {
	events := make(chan StreamEvent, 4)
	go func() {
		defer close(events)

		if strings.TrimSpace(input.Query) == "" {
			u.sendStreamEvent(ctx, events, StreamEvent{
				Kind:    StreamEventKindError,
				Payload: "query is required",
			})
			return
		}

		if !u.sendStreamEvent(ctx, events, StreamEvent{
			Kind:    StreamEventKindThinking,
			Payload: "Analyzing the question...",
		}) {
			return
		}

		var cacheKey string
		if u.cache != nil {
			cacheKey = u.cacheKey(input)
			if cached, ok := u.cache.Get(cacheKey); ok {
				u.streamCachedAnswer(ctx, events, cached)
				return
			}
		}

		if !u.sendStreamEvent(ctx, events, StreamEvent{
			Kind:    StreamEventKindProgress,
			Payload: "searching",
		}) {
			return
		}

		promptData, err := u.buildPrompt(ctx, input)
		if err != nil {
			u.sendStreamEvent(ctx, events, StreamEvent{
				Kind:    StreamEventKindFallback,
				Payload: err.Error(),
			})
			return
		}

		if !u.sendStreamEvent(ctx, events, StreamEvent{
			Kind:    StreamEventKindProgress,
			Payload: "generating",
		}) {
			return
		}

		meta := StreamMeta{
			Contexts: promptData.contexts,
			Debug:    u.answerDebug(promptData),
		}
		if !u.sendStreamEvent(ctx, events, StreamEvent{Kind: StreamEventKindMeta, Payload: meta}) {
			return
		}

		chunkCh, errCh, err := u.llmClient.ChatStream(ctx, promptData.messages, promptData.maxTokens)
		if err != nil {
			u.sendStreamEvent(ctx, events, StreamEvent{
				Kind:    StreamEventKindFallback,
				Payload: fmt.Sprintf("llm chat stream setup failed: %v", err),
			})
			return
		}

		heartbeat := time.NewTicker(streamHeartbeatInterval)
		defer heartbeat.Stop()

		var builder strings.Builder
		hasData := false
		chunkStream := chunkCh
		errStream := errCh
		done := false

		// Parsing state
		scanOffset := 0
		inAnswer := false
		isEscaped := false
		answerCompletelyStreamed := false

		for {
			if chunkStream == nil && errStream == nil {
				break
			}
			select {
			case <-ctx.Done():
				u.sendStreamEvent(ctx, events, StreamEvent{
					Kind:    StreamEventKindError,
					Payload: "client disconnected",
				})
				return
			case <-heartbeat.C:
				if !u.sendStreamEvent(ctx, events, StreamEvent{
					Kind:    StreamEventKindHeartbeat,
					Payload: time.Now().UTC().Format(time.RFC3339),
				}) {
					return
				}
			case chunk, ok := <-chunkStream:
				if !ok {
					chunkStream = nil
					continue
				}
				if chunk.Thinking != "" {
					if !u.sendStreamEvent(ctx, events, StreamEvent{
						Kind:    StreamEventKindThinking,
						Payload: chunk.Thinking,
					}) {
						return
					}
				}
				if chunk.Response != "" {
					hasData = true
					builder.WriteString(chunk.Response)

					// Partial parsing: locate the answer value, then emit its
					// content as it arrives.
					if !answerCompletelyStreamed {
						fullStr := builder.String()

						if !inAnswer {
							searchArea := fullStr[scanOffset:]
							idx := strings.Index(searchArea, "\"answer\"")
							if idx != -1 {
								absoluteIdx := scanOffset + idx + 8
								remainder := fullStr[absoluteIdx:]

								// fast forward through whitespace/colon
								startQuoteIdx := -1
								for i, r := range remainder {
									if r == ' ' || r == '\n' || r == '\t' || r == '\r' || r == ':' {
										continue
									}
									if r == '"' {
										startQuoteIdx = absoluteIdx + i + 1
										break
									}
									break
								}

								if startQuoteIdx != -1 {
									inAnswer = true
									scanOffset = startQuoteIdx
								} else {
									// Key found but the value has not started yet.
									scanOffset += idx
								}
							} else {
								// Keep a tail buffer in case the keyword is split
								// across chunks.
								if len(searchArea) > 20 {
									scanOffset += len(searchArea) - 20
								}
							}
						}

						if inAnswer {
							strToScan := fullStr[scanOffset:]
							var contentBuilder strings.Builder
							advanceBytes := 0

							for i, char := range strToScan {
								charLen := len(string(char))

								if isEscaped {
									isEscaped = false
									switch char {
									case 'n':
										contentBuilder.WriteRune('\n')
									case 'r':
										contentBuilder.WriteRune('\r')
									case 't':
										contentBuilder.WriteRune('\t')
									case '"':
										contentBuilder.WriteRune('"')
									case '\\':
										contentBuilder.WriteRune('\\')
									default:
										contentBuilder.WriteRune('\\')
										contentBuilder.WriteRune(char)
									}
									advanceBytes = i + charLen
									continue
								}

								if char == '\\' {
									isEscaped = true
									advanceBytes = i + charLen
									continue
								}

								if char == '"' {
									inAnswer = false
									answerCompletelyStreamed = true
									advanceBytes = i + charLen
									break
								}

								contentBuilder.WriteRune(char)
								advanceBytes = i + charLen
							}

							// A trailing backslash belongs to an escape split
							// across chunks. Leave it for the next chunk.
							if !answerCompletelyStreamed && isEscaped {
								isEscaped = false
								advanceBytes -= 1
							}

							strToStream := contentBuilder.String()
							if strToStream != "" {
								if !u.sendStreamEvent(ctx, events, StreamEvent{
									Kind:    StreamEventKindDelta,
									Payload: strToStream,
								}) {
									return
								}
							}
							scanOffset += advanceBytes
						}
					}
				}
				if chunk.Done {
					done = true
					chunkStream = nil
				}
			case streamErr, ok := <-errStream:
				if !ok {
					errStream = nil
					continue
				}
				u.sendStreamEvent(ctx, events, StreamEvent{
					Kind:    StreamEventKindFallback,
					Payload: fmt.Sprintf("llm stream failed: %v", streamErr),
				})
				return
			}
			if done {
				break
			}
		}

		if !hasData {
			u.sendStreamEvent(ctx, events, StreamEvent{
				Kind:    StreamEventKindFallback,
				Payload: "llm stream produced no data",
			})
			return
		}

		parsed, err := u.validator.Validate(builder.String(), promptData.contexts)
		if err != nil {
			u.sendStreamEvent(ctx, events, StreamEvent{
				Kind:    StreamEventKindFallback,
				Payload: fmt.Sprintf("validation failed: %v", err),
			})
			return
		}

		if parsed.Fallback {
			reason := parsed.Reason
			if reason == "" {
				reason = "model signaled fallback"
			}
			u.sendStreamEvent(ctx, events, StreamEvent{
				Kind:    StreamEventKindFallback,
				Payload: reason,
			})
			return
		}

		output := &AnswerWithRAGOutput{
			Answer:    strings.TrimSpace(parsed.Answer),
			Citations: u.buildCitations(promptData.contexts, parsed.Citations),
			Contexts:  promptData.contexts,
			Fallback:  false,
			Reason:    "",
			Debug:     u.answerDebug(promptData),
		}

		if u.cache != nil {
			u.cache.Add(cacheKey, output)
		}

		u.sendStreamEvent(ctx, events, StreamEvent{
			Kind:    StreamEventKindDone,
			Payload: output,
		})
	}()

	return events
}

// streamCachedAnswer replays a cached answer as a short meta/delta/done
// sequence so clients cannot tell it apart from a live stream.
func (u *answerWithRAGUsecase) streamCachedAnswer(ctx context.Context, events chan<- StreamEvent, cached *AnswerWithRAGOutput) {
	u.logger.Info("streaming cached answer",
		slog.String("retrieval_set_id", cached.Debug.RetrievalSetID))

	if !u.sendStreamEvent(ctx, events, StreamEvent{
		Kind:    StreamEventKindMeta,
		Payload: StreamMeta{Contexts: cached.Contexts, Debug: cached.Debug},
	}) {
		return
	}
	if !u.sendStreamEvent(ctx, events, StreamEvent{
		Kind:    StreamEventKindDelta,
		Payload: cached.Answer,
	}) {
		return
	}
	u.sendStreamEvent(ctx, events, StreamEvent{
		Kind:    StreamEventKindDone,
		Payload: cached,
	})
}

func (u *answerWithRAGUsecase) sendStreamEvent(ctx context.Context, events chan<- StreamEvent, event StreamEvent) bool {
	select {
	case <-ctx.Done():
		return false
	case events <- event:
		return true
	}
}
