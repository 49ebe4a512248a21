// Copyright 2025 UltrAI
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package usage

import "fmt"

// Prices stored in cents per 1M tokens to avoid floating point issues.
// All prices are USD, as of mid 2025.

// ModelPricing contains pricing for a specific model.
type ModelPricing struct {
	PromptCostPer1M     int // cents per 1M prompt tokens
	CompletionCostPer1M int // cents per 1M completion tokens
}

// modelPricing maps provider-model combinations to pricing.
var modelPricing = map[string]ModelPricing{
	// Anthropic
	"anthropic-claude-3-5-sonnet-20241022": {300, 1500}, // $3.00/$15.00 per 1M
	"anthropic-claude-3-5-haiku-20241022":  {80, 400},   // $0.80/$4.00 per 1M
	"anthropic-claude-3-opus-20240229":     {1500, 7500},

	// OpenAI
	"openai-gpt-4o":        {250, 1000}, // $2.50/$10.00 per 1M
	"openai-gpt-4o-mini":   {15, 60},
	"openai-gpt-4-turbo":   {1000, 3000},
	"openai-gpt-3.5-turbo": {50, 150},

	// Local providers are free
	"echo-echo-1": {0, 0},

	// Fallback for unknown models, conservative
	"default": {1000, 3000},
}

// CalculateCost returns the estimated cost in cents for one call.
func CalculateCost(provider, model string, promptTokens, completionTokens int) int {
	pricing, ok := modelPricing[provider+"-"+model]
	if !ok {
		pricing = modelPricing["default"]
	}

	promptCost := (promptTokens * pricing.PromptCostPer1M) / 1_000_000
	completionCost := (completionTokens * pricing.CompletionCostPer1M) / 1_000_000
	return promptCost + completionCost
}

// GetModelPricing returns the pricing for a provider-model combination.
func GetModelPricing(provider, model string) (ModelPricing, bool) {
	pricing, ok := modelPricing[provider+"-"+model]
	return pricing, ok
}

// FormatCostToDollars converts cents to a dollar string (135 -> "$1.35").
func FormatCostToDollars(cents int) string {
	return fmt.Sprintf("$%.2f", float64(cents)/100.0)
}
