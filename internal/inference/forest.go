package inference

import (
	"encoding/json"
	"fmt"
	"os"

	"heart-risk-service/internal/common/errors"
)

const leafIndex = -1

// TreeNode is one entry of a flattened tree. Leaves have Left == Right == -1.
// Value holds the training class counts [negative, positive] reaching the node.
type TreeNode struct {
	Feature   int        `json:"feature"`
	Threshold float64    `json:"threshold"`
	Left      int        `json:"left"`
	Right     int        `json:"right"`
	Value     [2]float64 `json:"value"`
}

func (n TreeNode) isLeaf() bool {
	return n.Left == leafIndex && n.Right == leafIndex
}

type decisionTree struct {
	nodes []TreeNode
}

type forestArtifact struct {
	SchemaVersion string   `json:"schema_version"`
	ModelType     string   `json:"model_type"`
	FeatureNames  []string `json:"feature_names"`
	Classes       []int    `json:"classes"`
	Trees         []struct {
		Nodes []TreeNode `json:"nodes"`
	} `json:"trees"`
}

// RandomForest averages the leaf class fractions of its trees. It is
// immutable after loading.
type RandomForest struct {
	trees []decisionTree
}

// LoadForest reads a forest artifact. Every failure is a CONFIGURATION_ERROR.
func LoadForest(path string) (*RandomForest, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigurationError("read model artifact", err)
	}
	return ParseForest(payload)
}

// ParseForest decodes and validates a forest artifact.
func ParseForest(payload []byte) (*RandomForest, error) {
	var art forestArtifact
	if err := json.Unmarshal(payload, &art); err != nil {
		return nil, errors.NewConfigurationError("decode model artifact", err)
	}
	if art.ModelType != "random_forest" {
		return nil, errors.NewConfigurationError(fmt.Sprintf("unsupported model type %q", art.ModelType), nil)
	}
	if err := checkColumns("model", art.SchemaVersion, art.FeatureNames); err != nil {
		return nil, err
	}
	if len(art.Classes) != 2 || art.Classes[0] != 0 || art.Classes[1] != 1 {
		return nil, errors.NewConfigurationError(fmt.Sprintf("model classes must be [0 1], got %v", art.Classes), nil)
	}
	if len(art.Trees) == 0 {
		return nil, errors.NewConfigurationError("model has no trees", nil)
	}

	rf := &RandomForest{trees: make([]decisionTree, 0, len(art.Trees))}
	for t, tree := range art.Trees {
		if err := validateTree(tree.Nodes); err != nil {
			return nil, errors.NewConfigurationError(fmt.Sprintf("tree %d", t), err)
		}
		rf.trees = append(rf.trees, decisionTree{nodes: tree.Nodes})
	}
	return rf, nil
}

// validateTree requires children to sit after their parent, which rules out
// cycles and guarantees every walk terminates.
func validateTree(nodes []TreeNode) error {
	if len(nodes) == 0 {
		return fmt.Errorf("empty tree")
	}
	for i, n := range nodes {
		if n.isLeaf() {
			if n.Value[0] < 0 || n.Value[1] < 0 || n.Value[0]+n.Value[1] <= 0 {
				return fmt.Errorf("leaf %d has invalid class counts %v", i, n.Value)
			}
			continue
		}
		if n.Feature < 0 || n.Feature >= NumFeatures {
			return fmt.Errorf("node %d: feature index %d out of range", i, n.Feature)
		}
		if !isFinite(n.Threshold) {
			return fmt.Errorf("node %d: threshold is not finite", i)
		}
		for _, child := range []int{n.Left, n.Right} {
			if child <= i || child >= len(nodes) {
				return fmt.Errorf("node %d: child index %d out of range", i, child)
			}
		}
	}
	return nil
}

// leaf walks the tree: x[feature] <= threshold goes left.
func (dt decisionTree) leaf(x ScaledVector) TreeNode {
	idx := 0
	for {
		node := dt.nodes[idx]
		if node.isLeaf() {
			return node
		}
		if x[node.Feature] <= node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
	}
}

// NumTrees reports the ensemble size.
func (rf *RandomForest) NumTrees() int {
	return len(rf.trees)
}

func (rf *RandomForest) PredictProba(x ScaledVector) (Probabilities, error) {
	for i, v := range x {
		if !isFinite(v) {
			return Probabilities{}, fmt.Errorf("input for %q is not finite", FeatureColumns[i])
		}
	}

	var positive float64
	for _, tree := range rf.trees {
		leaf := tree.leaf(x)
		positive += leaf.Value[1] / (leaf.Value[0] + leaf.Value[1])
	}
	positive /= float64(len(rf.trees))

	p := Probabilities{Negative: 1 - positive, Positive: positive}
	if err := p.Validate(); err != nil {
		return Probabilities{}, err
	}
	return p, nil
}
