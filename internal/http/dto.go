package http

import "news-processor/internal/services/categorizer"

type SummarizeRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type SummarizeResponse struct {
	Summary string `json:"summary"`
}

type CategorizeRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type CategorizeResponse struct {
	Category int       `json:"category"`
	Name     string    `json:"name"`
	Outcome  string    `json:"outcome"`
	Votes    []VoteDTO `json:"votes"`
}

type VoteDTO struct {
	Model    int  `json:"model"`
	Category *int `json:"category"`
	Attempts int  `json:"attempts"`
}

func votesToDTO(votes []categorizer.Vote) []VoteDTO {
	out := make([]VoteDTO, 0, len(votes))
	for _, v := range votes {
		dto := VoteDTO{Model: int(v.Model), Attempts: v.Attempts}
		if v.Resolved {
			idx := v.Index
			dto.Category = &idx
		}
		out = append(out, dto)
	}
	return out
}
