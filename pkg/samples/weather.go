// Copyright 2025 Kadir Pekel
//
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

package samples

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/agent/llmagent"
	"github.com/kadirpekel/maestro/pkg/model"
	"github.com/kadirpekel/maestro/pkg/tool"
	"github.com/kadirpekel/maestro/pkg/tool/functiontool"
)

// WeatherAgentID is the entity ID of the bundled weather agent.
const WeatherAgentID = "weather_agent"

var weatherConditions = []string{"sunny", "cloudy", "rainy", "stormy"}

type weatherArgs struct {
	Location string `json:"location" jsonschema:"required,description=The location to get the weather for."`
}

type timeArgs struct{}

// NewWeatherAgent builds a chat agent with two mock tools: a weather
// lookup returning randomized conditions and a UTC clock.
func NewWeatherAgent(llm model.LLM) (agent.Agent, error) {
	getWeather, err := functiontool.New(
		functiontool.Config{
			Name:        "get_weather",
			Description: "Get the weather for a given location.",
		},
		func(ctx tool.Context, args weatherArgs) (map[string]any, error) {
			condition := weatherConditions[rand.IntN(len(weatherConditions))]
			high := 10 + rand.IntN(21)
			return map[string]any{
				"report": fmt.Sprintf("The weather in %s is %s with a high of %d°C.",
					args.Location, condition, high),
			}, nil
		},
	)
	if err != nil {
		return nil, err
	}

	getTime, err := functiontool.New(
		functiontool.Config{
			Name:        "get_time",
			Description: "Get the current UTC time.",
		},
		func(ctx tool.Context, args timeArgs) (map[string]any, error) {
			now := time.Now().UTC()
			return map[string]any{
				"report": "The current UTC time is " + now.Format("2006-01-02 15:04:05") + ".",
			}, nil
		},
	)
	if err != nil {
		return nil, err
	}

	return llmagent.New(llmagent.Config{
		Name:        WeatherAgentID,
		Description: "Answers weather questions and tells the current time",
		Model:       llm,
		Instruction: "You are a friendly assistant. Use get_weather to answer " +
			"questions about the weather at a location and get_time when asked " +
			"about the current time. Answer in one or two sentences.",
		Tools: []tool.Tool{getWeather, getTime},
	})
}
