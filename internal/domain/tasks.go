package domain

// scenarioTasks maps each scenario to the external trainer's task
// argument. The mapping is total over valid scenarios.
var scenarioTasks = map[Scenario]string{
	ScenarioClassification:      "classification",
	ScenarioImageClassification: "image-classification",
	ScenarioRegression:          "regression",
	ScenarioForecasting:         "forecasting",
	ScenarioRecommendation:      "recommendation",
}

// TrainerTask returns the trainer task type for the scenario. Unknown
// scenarios fall back to classification, the trainer's own default.
func (s Scenario) TrainerTask() string {
	if task, ok := scenarioTasks[s]; ok {
		return task
	}
	return "classification"
}
