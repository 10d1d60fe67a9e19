package inference

// ReferenceSample is a hand-picked vector used to sanity check artifacts.
// Regression samples must keep their verdict across retraining.
type ReferenceSample struct {
	Name       string
	Values     FeatureVector
	Regression bool
	Positive   bool
}

var ReferenceSamples = []ReferenceSample{
	{Name: "UCI healthy sample", Values: FeatureVector{41, 0, 2, 130, 204, 0, 2, 172, 0, 1.4, 1, 0, 3}, Regression: true},
	{Name: "UCI risky sample", Values: FeatureVector{67, 1, 4, 160, 286, 0, 2, 108, 1, 1.5, 2, 3, 3}},
	{Name: "Outside healthy sample", Values: FeatureVector{40, 0, 2, 120, 180, 0, 0, 160, 0, 0.0, 1, 0, 3}},
	{Name: "Outside risky sample", Values: FeatureVector{65, 1, 4, 170, 320, 1, 2, 100, 1, 3.0, 2, 2, 7}},
	{Name: "Very young healthy sample", Values: FeatureVector{22, 0, 2, 110, 160, 0, 0, 180, 0, 0.0, 1, 0, 3}},
	{Name: "Elderly risky sample", Values: FeatureVector{80, 1, 4, 180, 350, 1, 2, 90, 1, 4.0, 2, 3, 7}, Regression: true, Positive: true},
	{Name: "Middle-aged borderline sample", Values: FeatureVector{50, 1, 3, 140, 220, 0, 1, 130, 0, 1.2, 2, 1, 6}},
}
