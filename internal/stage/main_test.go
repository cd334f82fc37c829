package stage

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/xiaot623/gogo/turngate/internal/adapter/llm"
	"github.com/xiaot623/gogo/turngate/internal/oracle"
	"github.com/xiaot623/gogo/turngate/internal/prompts"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newOracle(client llm.LLMClient) *oracle.Invoker {
	return oracle.NewInvoker(client, oracle.Config{Model: "test-model", Timeout: 2 * time.Second}, nil)
}

func testSet(stage string) prompts.Set {
	return prompts.NewSet(stage, map[string][]string{
		"default": {"You are the " + stage + " stage.", "Return strict JSON."},
		"bare":    {"You are the " + stage + " stage."},
	})
}
