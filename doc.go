/*
go-posepuppet drives cartoon puppets from human pose estimation.  Camera
frames are passed through a pose estimator, the detected keypoints are
smoothed per tracked person and mapped onto a skeleton of bone angles, and a
puppet (keypoint dots, a procedurally drawn alien, a jointed rig or an
ellipsoid figure) is drawn over the video.

The root package defines the shared data model (Part, Keypoint, Pose), the
Video Source and Estimator contracts and a pool of estimator instances.
Processing stages live in the subpackages:

	estimate    pose estimator backends (gocv DNN, external worker, replay)
	smoother    per identity exponential and Kalman keypoint filters
	skeleton    keypoint to bone angle mapping and rig tables
	tracker     pose identity assignment and puppet registry
	render      gocv puppet renderers
	pipeline    capture, detection and render loops
	emit        MQTT and WebSocket skeleton feeds

See example code and usage in the example subdirectory.
*/
package posepuppet
