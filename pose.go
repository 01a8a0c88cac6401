// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.15
//

package posegraph

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Wrap an angle to (-PI, PI]
func WrapAngle(a float64) float64 {
	if a > -PI && a <= PI {
		return a
	}
	a = math.Mod(a+PI, 2*PI)
	if a <= 0 {
		a += 2 * PI
	}
	return a - PI
}

//-------------------------------------------------------------------
// Pose2
//-------------------------------------------------------------------

// Planar pose (x, y, heading)
type Pose2 struct {
	X     float64
	Y     float64
	Theta float64
}

func NewPose2FromSlice(v []float64) Pose2 {
	return Pose2{X: v[0], Y: v[1], Theta: v[2]}
}

func (p Pose2) Slice() []float64 {
	return []float64{p.X, p.Y, p.Theta}
}

// Pose of b expressed in the frame of p (p^-1 * b)
func (p Pose2) Between(b Pose2) Pose2 {
	c, s := math.Cos(p.Theta), math.Sin(p.Theta)
	dx, dy := b.X-p.X, b.Y-p.Y
	return Pose2{
		X:     c*dx + s*dy,
		Y:     -s*dx + c*dy,
		Theta: WrapAngle(b.Theta - p.Theta),
	}
}

// Compose p * d
func (p Pose2) Compose(d Pose2) Pose2 {
	c, s := math.Cos(p.Theta), math.Sin(p.Theta)
	return Pose2{
		X:     p.X + c*d.X - s*d.Y,
		Y:     p.Y + s*d.X + c*d.Y,
		Theta: WrapAngle(p.Theta + d.Theta),
	}
}

// Read from string "x y theta"
func (p *Pose2) Set(s string) error {
	v, err := parseFields(s, 3)
	if err != nil {
		return err
	}
	*p = NewPose2FromSlice(v)
	return nil
}

func (p *Pose2) String() string {
	return fmt.Sprintf("%.4f %.4f %.6f", p.X, p.Y, p.Theta)
}

//-------------------------------------------------------------------
// Pose3
//-------------------------------------------------------------------

// Spatial pose, translation and roll/pitch/yaw (R = Rz(yaw) Ry(pitch) Rx(roll))
type Pose3 struct {
	X     float64
	Y     float64
	Z     float64
	Roll  float64
	Pitch float64
	Yaw   float64
}

func NewPose3FromSlice(v []float64) Pose3 {
	return Pose3{X: v[0], Y: v[1], Z: v[2], Roll: v[3], Pitch: v[4], Yaw: v[5]}
}

func (p Pose3) Slice() []float64 {
	return []float64{p.X, p.Y, p.Z, p.Roll, p.Pitch, p.Yaw}
}

// Rotation matrix
func (p Pose3) Rot() [3][3]float64 {
	sr, cr := math.Sin(p.Roll), math.Cos(p.Roll)
	sp, cp := math.Sin(p.Pitch), math.Cos(p.Pitch)
	sy, cy := math.Sin(p.Yaw), math.Cos(p.Yaw)
	var M [3][3]float64
	M[0][0], M[0][1], M[0][2] = cy*cp, cy*sp*sr-sy*cr, cy*sp*cr+sy*sr
	M[1][0], M[1][1], M[1][2] = sy*cp, sy*sp*sr+cy*cr, sy*sp*cr-cy*sr
	M[2][0], M[2][1], M[2][2] = -sp, cp*sr, cp*cr
	return M
}

// Roll/pitch/yaw of a rotation matrix
func rotToRpy(M [3][3]float64) (roll, pitch, yaw float64) {
	roll = math.Atan2(M[2][1], M[2][2])
	pitch = math.Atan2(-M[2][0], math.Sqrt(M[2][1]*M[2][1]+M[2][2]*M[2][2]))
	yaw = math.Atan2(M[1][0], M[0][0])
	return
}

// Pose of b expressed in the frame of p (p^-1 * b)
func (p Pose3) Between(b Pose3) Pose3 {
	Ra, Rb := p.Rot(), b.Rot()
	d := [3]float64{b.X - p.X, b.Y - p.Y, b.Z - p.Z}
	var t [3]float64
	var R [3][3]float64
	for i := 0; i < 3; i++ {
		for k := 0; k < 3; k++ {
			t[i] += Ra[k][i] * d[k]
			for j := 0; j < 3; j++ {
				R[i][j] += Ra[k][i] * Rb[k][j]
			}
		}
	}
	r, pi, y := rotToRpy(R)
	return Pose3{X: t[0], Y: t[1], Z: t[2], Roll: r, Pitch: pi, Yaw: y}
}

// Compose p * d
func (p Pose3) Compose(d Pose3) Pose3 {
	Ra, Rd := p.Rot(), d.Rot()
	t := [3]float64{p.X, p.Y, p.Z}
	var R [3][3]float64
	for i := 0; i < 3; i++ {
		t[i] += Ra[i][0]*d.X + Ra[i][1]*d.Y + Ra[i][2]*d.Z
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				R[i][j] += Ra[i][k] * Rd[k][j]
			}
		}
	}
	r, pi, y := rotToRpy(R)
	return Pose3{X: t[0], Y: t[1], Z: t[2], Roll: r, Pitch: pi, Yaw: y}
}

// Read from string "x y z roll pitch yaw"
func (p *Pose3) Set(s string) error {
	v, err := parseFields(s, 6)
	if err != nil {
		return err
	}
	*p = NewPose3FromSlice(v)
	return nil
}

func (p *Pose3) String() string {
	return fmt.Sprintf("%.4f %.4f %.4f %.6f %.6f %.6f", p.X, p.Y, p.Z, p.Roll, p.Pitch, p.Yaw)
}

// Parse n whitespace separated floats
func parseFields(s string, n int) ([]float64, error) {
	f := strings.Fields(s)
	if len(f) != n {
		return nil, fmt.Errorf("expected %d values, got %d (%q)", n, len(f), s)
	}
	v := make([]float64, n)
	for i := range f {
		x, err := strconv.ParseFloat(f[i], 64)
		if err != nil {
			return nil, err
		}
		v[i] = x
	}
	return v, nil
}
