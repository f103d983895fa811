package timestep

import "fmt"

// Transition is a single environment transition as stored in a replay
// buffer. Vision frames are flattened in (channels, height, width)
// order.
type Transition struct {
	Vision             []float64
	Proprioception     []float64
	Action             []float64
	Reward             float64
	NextVision         []float64
	NextProprioception []float64
	Done               bool
}

// NewTransition returns a new Transition
func NewTransition(vision, proprio, action []float64, reward float64,
	nextVision, nextProprio []float64, done bool) Transition {
	return Transition{
		Vision:             vision,
		Proprioception:     proprio,
		Action:             action,
		Reward:             reward,
		NextVision:         nextVision,
		NextProprioception: nextProprio,
		Done:               done,
	}
}

// Validate returns an error if the sizes of the Transition's vectors
// do not match the given sizes
func (t Transition) Validate(visionSize, proprioSize, actionSize int) error {
	if len(t.Vision) != visionSize || len(t.NextVision) != visionSize {
		return fmt.Errorf("validate: invalid vision size \n\twant(%v)"+
			"\n\thave(%v, %v)", visionSize, len(t.Vision), len(t.NextVision))
	}
	if len(t.Proprioception) != proprioSize ||
		len(t.NextProprioception) != proprioSize {
		return fmt.Errorf("validate: invalid proprioception size \n\twant(%v)"+
			"\n\thave(%v, %v)", proprioSize, len(t.Proprioception),
			len(t.NextProprioception))
	}
	if len(t.Action) != actionSize {
		return fmt.Errorf("validate: invalid action size \n\twant(%v)"+
			"\n\thave(%v)", actionSize, len(t.Action))
	}
	return nil
}

// DoneMask returns 1 if the Transition ends an episode and 0 otherwise
func (t Transition) DoneMask() float64 {
	if t.Done {
		return 1
	}
	return 0
}
