package controller

import (
	"doc-qa-engine/internal/dto"
	"doc-qa-engine/internal/pkg/serverutils"
	"doc-qa-engine/pkg/index"
	"doc-qa-engine/pkg/llm"
	"doc-qa-engine/pkg/rag/orchestrator"

	"github.com/gofiber/fiber/v2"
)

type IQueryController interface {
	RegisterRoutes(r fiber.Router)
	Ask(ctx *fiber.Ctx) error
	Health(ctx *fiber.Ctx) error
}

type queryController struct {
	engine    *orchestrator.Orchestrator
	llmClient llm.Client
	idx       index.VectorIndex
}

func NewQueryController(engine *orchestrator.Orchestrator, llmClient llm.Client, idx index.VectorIndex) IQueryController {
	return &queryController{
		engine:    engine,
		llmClient: llmClient,
		idx:       idx,
	}
}

func (c *queryController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/query/v1")
	h.Post("", c.Ask)
	h.Get("health", c.Health)
}

func (c *queryController) Ask(ctx *fiber.Ctx) error {
	var req dto.AskQueryRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "Invalid request body"))
	}

	resp := c.engine.RunQuery(ctx.Context(), req.Query, req.TopK)

	return ctx.JSON(serverutils.SuccessResponse("Query processed", dto.FromResponse(resp)))
}

func (c *queryController) Health(ctx *fiber.Ctx) error {
	count, err := c.idx.Count(ctx.Context())
	if err != nil {
		count = 0
	}

	status := "ok"
	llmUp := c.llmClient.Health(ctx.Context())
	if !llmUp {
		status = "degraded"
	}

	return ctx.JSON(serverutils.SuccessResponse("Health", dto.HealthResponse{
		Status:     status,
		LLMServer:  llmUp,
		ChunkCount: count,
	}))
}
